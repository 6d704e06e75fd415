package field

import (
	"fmt"
	"math"
	"math/big"
)

// EncodeFixed scales x by 2^S, rounds half away from zero and maps the signed
// result into the field. Values whose scaled magnitude exceeds (p-1)/2, and
// non-finite inputs, are rejected with ErrOverflow instead of wrapping.
func (p *Params) EncodeFixed(x float64) (Element, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return Element{}, fmt.Errorf("%w: %v", ErrOverflow, x)
	}
	scaled := math.Round(math.Ldexp(x, int(p.shift)))
	if math.IsInf(scaled, 0) {
		return Element{}, fmt.Errorf("%w: %v", ErrOverflow, x)
	}
	// scaled is integral, so the conversion is exact.
	v, _ := new(big.Float).SetFloat64(scaled).Int(nil)
	return p.EncodeSigned(v)
}

// EncodeSigned maps a signed integer into the field after checking it lies
// in the symmetric range [-(p-1)/2, (p-1)/2].
func (p *Params) EncodeSigned(v *big.Int) (Element, error) {
	if new(big.Int).Abs(v).Cmp(p.half) > 0 {
		return Element{}, fmt.Errorf("%w: %d bits", ErrOverflow, v.BitLen())
	}
	return p.FromBig(v), nil
}

// DecodeSigned returns the signed integer represented by e. Residues above
// (p-1)/2 are negative.
func (p *Params) DecodeSigned(e Element) *big.Int {
	v := new(big.Int).Mod(e.int(), p.modulus)
	if v.Cmp(p.half) > 0 {
		v.Sub(v, p.modulus)
	}
	return v
}

// DecodeInt64 is DecodeSigned restricted to values that fit an int64.
func (p *Params) DecodeInt64(e Element) (int64, error) {
	v := p.DecodeSigned(e)
	if !v.IsInt64() {
		return 0, fmt.Errorf("%w: %d bits", ErrOverflow, v.BitLen())
	}
	return v.Int64(), nil
}

// DecodeFixed reverses EncodeFixed: the signed value divided by 2^S.
func (p *Params) DecodeFixed(e Element) float64 {
	f := new(big.Float).SetInt(p.DecodeSigned(e))
	f.SetMantExp(f, -int(p.shift))
	x, _ := f.Float64()
	return x
}
