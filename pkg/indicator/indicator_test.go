package indicator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pivot-spdz/dtree-client/pkg/binning"
)

func TestSplitIndicatorsComplementary(t *testing.T) {
	values := []float64{3.5, 1, 7, 2, 9, 4, 4, 6, 8, 5, 0.5}
	splits, err := binning.ComputeSplits(values, binning.DefaultMaxSplits)
	require.NoError(t, err)

	left, right := SplitIndicators(values, splits)
	require.Len(t, left, splits.Count)
	require.Len(t, right, splits.Count)
	for s := range left {
		for i := range values {
			require.EqualValues(t, 1, left[s][i]+right[s][i], "split %d sample %d", s, i)
		}
	}
}

func TestSplitIndicatorsLessOrEqual(t *testing.T) {
	splits := binning.SplitList{Kind: binning.Categorical, Count: 1, Thresholds: []float64{2}}
	left, right := SplitIndicators([]float64{1, 2, 3}, splits)
	require.Equal(t, []Vector{{1, 1, 0}}, left)
	require.Equal(t, []Vector{{0, 0, 1}}, right)
}

func TestSplitIndicatorsDegenerate(t *testing.T) {
	left, right := SplitIndicators([]float64{1, 1}, binning.SplitList{Kind: binning.Degenerate})
	require.Empty(t, left)
	require.Empty(t, right)
}

func TestClassIndicatorsFirstOccurrence(t *testing.T) {
	labels := []float64{2, 0, 2, 1, 0}
	classes, vecs := ClassIndicators(labels)
	require.Equal(t, []float64{2, 0, 1}, classes)
	require.Equal(t, []Vector{
		{1, 0, 1, 0, 0},
		{0, 1, 0, 0, 1},
		{0, 0, 0, 1, 0},
	}, vecs)

	for i := range labels {
		var sum int64
		for _, v := range vecs {
			sum += v[i]
		}
		require.EqualValues(t, 1, sum)
	}
	require.EqualValues(t, 2, vecs[0].Sum())
}

func TestClassIndicatorsEmpty(t *testing.T) {
	classes, vecs := ClassIndicators(nil)
	require.Empty(t, classes)
	require.Empty(t, vecs)
}
