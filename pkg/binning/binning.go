// Package binning computes the candidate split thresholds of a feature column.
//
// A column with more distinct values than the split capacity K is treated as
// continuous and cut into K+1 bins of equal sample count. Columns with at
// most K distinct values are categorical: every distinct value but the last
// becomes a threshold. A column with a single value carries no split.
package binning

import (
	"errors"
	"fmt"
	"sort"
)

const (
	// DefaultMaxSplits is the split capacity K per feature.
	DefaultMaxSplits = 8

	// Sentinel fills unused threshold slots in the wire form.
	Sentinel = -1.0
)

// ErrEmptyFeature indicates a column without samples.
var ErrEmptyFeature = errors.New("binning: feature column is empty")

// Kind classifies how a column was discretised.
type Kind int

const (
	Degenerate Kind = iota
	Categorical
	Continuous
)

func (k Kind) String() string {
	switch k {
	case Degenerate:
		return "degenerate"
	case Categorical:
		return "categorical"
	case Continuous:
		return "continuous"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// SplitList holds the real thresholds of one feature. Count always equals
// len(Thresholds); it is kept because it is the first value the engines
// receive.
type SplitList struct {
	Kind       Kind
	Count      int
	Thresholds []float64
}

// Slots returns the fixed-width wire form: the count followed by k slots,
// unused ones set to sentinel.
func (s SplitList) Slots(k int, sentinel float64) []float64 {
	out := make([]float64, k+1)
	out[0] = float64(s.Count)
	for i := 1; i <= k; i++ {
		if i <= len(s.Thresholds) {
			out[i] = s.Thresholds[i-1]
		} else {
			out[i] = sentinel
		}
	}
	return out
}

// ComputeSplits derives the split list of values with capacity k.
func ComputeSplits(values []float64, k int) (SplitList, error) {
	if k < 1 {
		return SplitList{}, fmt.Errorf("binning: split capacity must be positive, got %d", k)
	}
	n := len(values)
	if n == 0 {
		return SplitList{}, ErrEmptyFeature
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })

	distinct := make([]float64, 0, k+1)
	for i, idx := range order {
		v := values[idx]
		if i == 0 || v != values[order[i-1]] {
			distinct = append(distinct, v)
		}
	}

	switch d := len(distinct); {
	case d >= k+1:
		bin := n / (k + 1)
		th := make([]float64, k)
		for i := 1; i <= k; i++ {
			lo := min(i*bin, n-1)
			hi := min(i*bin+1, n-1)
			th[i-1] = (values[order[lo]] + values[order[hi]]) / 2
		}
		return SplitList{Kind: Continuous, Count: k, Thresholds: th}, nil
	case d > 1:
		th := append([]float64(nil), distinct[:d-1]...)
		return SplitList{Kind: Categorical, Count: d - 1, Thresholds: th}, nil
	default:
		return SplitList{Kind: Degenerate}, nil
	}
}
