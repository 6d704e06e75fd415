package input

import (
	"fmt"

	"github.com/pivot-spdz/dtree-client/pkg/field"
)

// Triple is one reconstructed multiplication triple. It masks exactly one
// value and is discarded afterwards.
type Triple struct {
	A, B, C field.Element
}

// Valid reports whether a·b = c.
func (t Triple) Valid(p *field.Params) bool {
	return p.Equal(p.Mul(t.A, t.B), t.C)
}

// reconstructTriples sums the per-engine triple shares of a batch of size n.
// Every payload holds 3·n packed elements, a, b and c interleaved per value.
func reconstructTriples(p *field.Params, payloads [][]byte, n int) ([]Triple, error) {
	sums := make([]field.Element, 3*n)
	for i := range sums {
		sums[i] = p.Zero()
	}
	for engine, payload := range payloads {
		elems, err := p.Unpack(payload, 3*n)
		if err != nil {
			return nil, fmt.Errorf("%w: engine %d: %w", ErrMalformedBatch, engine, err)
		}
		for i, e := range elems {
			sums[i] = p.Add(sums[i], e)
		}
	}
	triples := make([]Triple, n)
	for i := range triples {
		triples[i] = Triple{A: sums[3*i], B: sums[3*i+1], C: sums[3*i+2]}
	}
	return triples, nil
}

// verifyTriples returns a *TripleError for the first invalid triple.
func verifyTriples(p *field.Params, triples []Triple, offset int) error {
	for i, t := range triples {
		if !t.Valid(p) {
			return &TripleError{Index: offset + i}
		}
	}
	return nil
}

// discardTriples wipes triples once their masks have been used.
func discardTriples(triples []Triple) {
	for _, t := range triples {
		field.Zeroize(t.A, t.B, t.C)
	}
}
