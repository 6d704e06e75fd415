package field

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrInvalidModulus indicates the configured modulus is not an odd prime.
	ErrInvalidModulus = errors.New("field: modulus must be an odd prime")

	// ErrOverflow indicates a fixed-point value does not fit the signed range
	// of the field.
	ErrOverflow = errors.New("field: value exceeds representable range")

	// ErrMalformed indicates a packed buffer does not hold the expected number
	// of canonical elements.
	ErrMalformed = errors.New("field: malformed packed elements")
)

// DefaultShift is the number of fractional bits used for fixed-point values.
const DefaultShift uint = 8

const primalityRounds = 20

// Params holds the field modulus and fixed-point scale. A Params value is
// built once at startup and never changes afterwards; it is safe for
// concurrent use.
type Params struct {
	modulus *big.Int
	half    *big.Int // (p-1)/2, the largest positive signed value
	degree  int
	shift   uint
	size    int
}

// NewParams validates the modulus and returns the field parameters. degree is
// the GF(2^n) extension degree read from the same setup file; the client does
// not compute in GF(2^n) but keeps it so every party can compare setups.
func NewParams(modulus *big.Int, degree int, shift uint) (*Params, error) {
	if modulus == nil || modulus.Cmp(big.NewInt(2)) <= 0 {
		return nil, ErrInvalidModulus
	}
	if !modulus.ProbablyPrime(primalityRounds) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidModulus, modulus.String())
	}
	if shift >= 1024 {
		return nil, fmt.Errorf("field: shift %d too large", shift)
	}
	m := new(big.Int).Set(modulus)
	half := new(big.Int).Sub(m, big.NewInt(1))
	half.Rsh(half, 1)
	return &Params{
		modulus: m,
		half:    half,
		degree:  degree,
		shift:   shift,
		size:    (m.BitLen() + 7) / 8,
	}, nil
}

// Modulus returns a copy of the prime modulus.
func (p *Params) Modulus() *big.Int { return new(big.Int).Set(p.modulus) }

// Degree returns the GF(2^n) extension degree recorded in the setup.
func (p *Params) Degree() int { return p.degree }

// Shift returns the number of fractional bits of the fixed-point encoding.
func (p *Params) Shift() uint { return p.shift }

// ElementSize returns the packed width of one element in bytes.
func (p *Params) ElementSize() int { return p.size }

// String describes the parameters without printing the full modulus.
func (p *Params) String() string {
	return fmt.Sprintf("field{bits=%d degree=%d shift=%d}", p.modulus.BitLen(), p.degree, p.shift)
}

// Element is a residue modulo the field prime. The zero value is 0. Elements
// are immutable; arithmetic goes through the owning Params.
type Element struct {
	v *big.Int
}

func (e Element) int() *big.Int {
	if e.v == nil {
		return new(big.Int)
	}
	return e.v
}

// Big returns a copy of the canonical representative in [0, p).
func (e Element) Big() *big.Int { return new(big.Int).Set(e.int()) }

// IsZero reports whether e is the additive identity.
func (e Element) IsZero() bool { return e.v == nil || e.v.Sign() == 0 }

// String returns the decimal form of the canonical representative.
func (e Element) String() string { return e.int().String() }

// Zero returns the additive identity.
func (p *Params) Zero() Element { return Element{v: new(big.Int)} }

// FromBig reduces x modulo p.
func (p *Params) FromBig(x *big.Int) Element {
	// big.Int.Mod is Euclidean, so the result is already non-negative.
	return Element{v: new(big.Int).Mod(x, p.modulus)}
}

// FromInt64 maps a signed integer into the field.
func (p *Params) FromInt64(v int64) Element {
	return p.FromBig(big.NewInt(v))
}

// Add returns a + b mod p.
func (p *Params) Add(a, b Element) Element {
	z := new(big.Int).Add(a.int(), b.int())
	return Element{v: z.Mod(z, p.modulus)}
}

// Sub returns a - b mod p.
func (p *Params) Sub(a, b Element) Element {
	z := new(big.Int).Sub(a.int(), b.int())
	return Element{v: z.Mod(z, p.modulus)}
}

// Mul returns a * b mod p.
func (p *Params) Mul(a, b Element) Element {
	z := new(big.Int).Mul(a.int(), b.int())
	return Element{v: z.Mod(z, p.modulus)}
}

// Neg returns -a mod p.
func (p *Params) Neg(a Element) Element {
	return p.Sub(p.Zero(), a)
}

// Equal reports whether a and b are the same residue.
func (p *Params) Equal(a, b Element) bool {
	return new(big.Int).Mod(a.int(), p.modulus).Cmp(new(big.Int).Mod(b.int(), p.modulus)) == 0
}

// Sum adds all elements.
func (p *Params) Sum(elems ...Element) Element {
	z := new(big.Int)
	for _, e := range elems {
		z.Add(z, e.int())
	}
	return Element{v: z.Mod(z, p.modulus)}
}
