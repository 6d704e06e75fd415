// Package field implements the prime-field arithmetic and fixed-point codec
// shared by every party of an SPDZ computation.
//
// All values exchanged with the engines are residues modulo a large prime p.
// The modulus, together with the fixed-point shift S, is agreed by every
// party before any sharing starts and is carried around as an immutable
// *Params value:
//
//	params, err := field.LoadSetup(field.SetupPath(root, 3, 128, 128), 8)
//	if err != nil {
//	    return err
//	}
//	e, err := params.EncodeFixed(10.0) // 10 * 2^8 = 2560
//	x := params.DecodeFixed(e)         // 10.0
//
// Real numbers are scaled by 2^S and rounded to the nearest integer before
// being mapped into the field; negative integers map to p - |v|. Decoding
// interprets residues above (p-1)/2 as negative.
//
// # Wire Format
//
// Elements travel as fixed-width big-endian integers of ElementSize() bytes.
// A batch of elements is the plain concatenation of its members; framing is
// the transport's concern.
package field
