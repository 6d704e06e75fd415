package binning

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleDistinctValue(t *testing.T) {
	s, err := ComputeSplits([]float64{4, 4, 4, 4}, DefaultMaxSplits)
	require.NoError(t, err)
	require.Equal(t, Degenerate, s.Kind)
	require.Zero(t, s.Count)
	require.Empty(t, s.Thresholds)

	slots := s.Slots(DefaultMaxSplits, Sentinel)
	require.Len(t, slots, DefaultMaxSplits+1)
	assert.Equal(t, 0.0, slots[0])
	for _, v := range slots[1:] {
		assert.Equal(t, Sentinel, v)
	}
}

func TestExactlyKDistinctValues(t *testing.T) {
	values := []float64{7, 3, 8, 1, 5, 2, 6, 4, 3, 7}
	s, err := ComputeSplits(values, DefaultMaxSplits)
	require.NoError(t, err)
	require.Equal(t, Categorical, s.Kind)
	require.Equal(t, DefaultMaxSplits-1, s.Count)
	require.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7}, s.Thresholds)

	slots := s.Slots(DefaultMaxSplits, Sentinel)
	require.Equal(t, []float64{7, 1, 2, 3, 4, 5, 6, 7, Sentinel}, slots)
}

func TestFewDistinctValues(t *testing.T) {
	s, err := ComputeSplits([]float64{1, 0, 1, 0, 2}, DefaultMaxSplits)
	require.NoError(t, err)
	require.Equal(t, Categorical, s.Kind)
	require.Equal(t, 2, s.Count)
	require.Equal(t, []float64{0, 1}, s.Thresholds)
}

func TestQuantileSplitsNineSamples(t *testing.T) {
	values := []float64{90, 10, 70, 30, 50, 20, 80, 40, 60}
	s, err := ComputeSplits(values, DefaultMaxSplits)
	require.NoError(t, err)
	require.Equal(t, Continuous, s.Kind)
	require.Equal(t, DefaultMaxSplits, s.Count)
	// bin size 1: midpoints of sorted positions (1,2), (2,3) ... (8,8) with the
	// last upper index clamped to n-1.
	require.Equal(t, []float64{25, 35, 45, 55, 65, 75, 85, 90}, s.Thresholds)
}

func TestQuantileSplitsAscending(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	values := make([]float64, 200)
	for i := range values {
		values[i] = float64(r.Intn(1000)) / 10
	}
	s, err := ComputeSplits(values, DefaultMaxSplits)
	require.NoError(t, err)
	require.Equal(t, Continuous, s.Kind)
	for i := 1; i < len(s.Thresholds); i++ {
		require.LessOrEqual(t, s.Thresholds[i-1], s.Thresholds[i])
	}
}

func TestDeterministicUnderPermutation(t *testing.T) {
	base := []float64{5, 1, 1, 9, 3, 3, 3, 7, 2, 8, 6, 4, 4, 0, 10, 11}
	want, err := ComputeSplits(base, DefaultMaxSplits)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		perm := append([]float64(nil), base...)
		r.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
		got, err := ComputeSplits(perm, DefaultMaxSplits)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestEmptyColumn(t *testing.T) {
	_, err := ComputeSplits(nil, DefaultMaxSplits)
	require.ErrorIs(t, err, ErrEmptyFeature)

	_, err = ComputeSplits([]float64{1}, 0)
	require.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "continuous", Continuous.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}
