package field

import (
	"fmt"
	"math/big"
)

// Pack concatenates the fixed-width big-endian encodings of elems.
func (p *Params) Pack(elems []Element) []byte {
	return p.AppendPacked(make([]byte, 0, len(elems)*p.size), elems...)
}

// AppendPacked appends the packed encodings of elems to dst.
func (p *Params) AppendPacked(dst []byte, elems ...Element) []byte {
	for _, e := range elems {
		start := len(dst)
		dst = append(dst, make([]byte, p.size)...)
		new(big.Int).Mod(e.int(), p.modulus).FillBytes(dst[start:])
	}
	return dst
}

// Unpack decodes exactly n elements from buf. Buffers of the wrong length and
// values that are not reduced modulo p are rejected.
func (p *Params) Unpack(buf []byte, n int) ([]Element, error) {
	if n < 0 || len(buf) != n*p.size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d elements of %d bytes",
			ErrMalformed, len(buf), n, p.size)
	}
	out := make([]Element, n)
	for i := range out {
		v := new(big.Int).SetBytes(buf[i*p.size : (i+1)*p.size])
		if v.Cmp(p.modulus) >= 0 {
			return nil, fmt.Errorf("%w: element %d not reduced", ErrMalformed, i)
		}
		out[i] = Element{v: v}
	}
	return out, nil
}
