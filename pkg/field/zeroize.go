package field

import "runtime"

// ZeroizeBytes overwrites buf with zeros. runtime.KeepAlive keeps the
// stores from being eliminated (golang/go#33325).
//
// Copies made by the garbage collector or the network stack are out of reach;
// this only clears the buffer the caller holds.
func ZeroizeBytes(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	runtime.KeepAlive(buf)
}

// Zeroize clears the words backing each element and sets it to zero. It is
// meant for elements the caller exclusively owns, such as reconstructed
// triples once their value has been masked.
func Zeroize(elems ...Element) {
	for _, e := range elems {
		if e.v == nil {
			continue
		}
		words := e.v.Bits()
		for i := range words {
			words[i] = 0
		}
		runtime.KeepAlive(words)
		e.v.SetInt64(0)
	}
}
