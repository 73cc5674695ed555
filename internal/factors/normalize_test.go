package factors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWinsorizedZScoresConstantSeries(t *testing.T) {
	scores := WinsorizedZScores([]float64{5, 5, 5, 5, 5})
	require.Len(t, scores, 5)
	for _, s := range scores {
		assert.Equal(t, 0.0, s)
		assert.False(t, math.IsNaN(s))
	}
}

func TestWinsorizedZScoresSinglePoint(t *testing.T) {
	scores := WinsorizedZScores([]float64{42})
	require.Len(t, scores, 1)
	assert.Equal(t, 0.0, scores[0])
}

func TestWinsorizedZScoresEmpty(t *testing.T) {
	assert.Empty(t, WinsorizedZScores(nil))
}

func TestWinsorizedZScoresCentered(t *testing.T) {
	scores := WinsorizedZScores([]float64{1, 2, 3, 4, 5})
	require.Len(t, scores, 5)

	// Symmetric input: middle element at the mean, ends mirrored
	assert.InDelta(t, 0.0, scores[2], 1e-9)
	assert.InDelta(t, -scores[4], scores[0], 1e-9)
	assert.Greater(t, scores[4], scores[3])

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	assert.InDelta(t, 0.0, sum, 1e-9)
}

func TestWinsorizedZScoresClipsOutliers(t *testing.T) {
	values := make([]float64, 200)
	for i := range values {
		values[i] = float64(i + 1)
	}
	values[199] = 1e9

	scores := WinsorizedZScores(values)

	// The outlier is clipped to the 99th percentile, so its score stays
	// in the same order of magnitude as the rest of the series
	assert.Less(t, scores[199], 3.0)
	assert.GreaterOrEqual(t, scores[199], scores[198])
}

func TestWinsorizedZScoresNoNaN(t *testing.T) {
	scores := WinsorizedZScores([]float64{0.1, 0.1, 0.1, 7.3})
	for i, s := range scores {
		assert.False(t, math.IsNaN(s), "index %d", i)
	}
}
