// Package indicator builds the 0/1 membership vectors the engines use to
// evaluate splits: one left/right pair per threshold and one vector per label
// class.
package indicator

import "github.com/pivot-spdz/dtree-client/pkg/binning"

// Vector holds one 0/1 entry per sample.
type Vector []int64

// Sum returns the number of ones.
func (v Vector) Sum() int64 {
	var s int64
	for _, x := range v {
		s += x
	}
	return s
}

// SplitIndicators returns one (left, right) pair per real threshold of
// splits. left[s][i] is 1 iff values[i] <= threshold s; right is its
// complement.
func SplitIndicators(values []float64, splits binning.SplitList) (left, right []Vector) {
	left = make([]Vector, 0, len(splits.Thresholds))
	right = make([]Vector, 0, len(splits.Thresholds))
	for _, t := range splits.Thresholds {
		l := make(Vector, len(values))
		r := make(Vector, len(values))
		for i, v := range values {
			if v <= t {
				l[i] = 1
			} else {
				r[i] = 1
			}
		}
		left = append(left, l)
		right = append(right, r)
	}
	return left, right
}

// ClassIndicators discovers the label classes in first-occurrence order and
// returns one membership vector per class.
func ClassIndicators(labels []float64) (classes []float64, vectors []Vector) {
	index := make(map[float64]int)
	for _, l := range labels {
		if _, ok := index[l]; !ok {
			index[l] = len(classes)
			classes = append(classes, l)
		}
	}
	vectors = make([]Vector, len(classes))
	for c := range vectors {
		vectors[c] = make(Vector, len(labels))
	}
	for i, l := range labels {
		vectors[index[l]][i] = 1
	}
	return classes, vectors
}
