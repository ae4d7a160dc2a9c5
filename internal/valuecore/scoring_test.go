package valuecore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeWeights_UniformWhenAllZero(t *testing.T) {
	w := NormalizeWeights(Weights{})
	for _, a := range Axes {
		assert.InDelta(t, 1.0/float64(len(Axes)), w[a], 1e-9)
	}
}

func TestNormalizeWeights_SumsToOne(t *testing.T) {
	w := NormalizeWeights(Weights{AxisUtility: 3, AxisSafety: 1})
	var sum float64
	for _, a := range Axes {
		sum += w[a]
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.75, w[AxisUtility], 1e-9)
	assert.InDelta(t, 0.25, w[AxisSafety], 1e-9)
}

func TestNormalizeWeights_MissingAxisDefaultsToZero(t *testing.T) {
	w := NormalizeWeights(Weights{AxisUtility: 1})
	assert.Equal(t, 0.0, w[AxisNovelty])
}

func TestScore_TotalIsWeightedSum(t *testing.T) {
	scores := AxisScores{AxisUtility: 1.0, AxisSafety: 0.0, AxisFeasibility: 0.0, AxisAlignment: 0.0, AxisNovelty: 0.0}
	weights := Weights{AxisUtility: 1.0}
	r := Score(scores, weights)
	assert.InDelta(t, 1.0, r.Total, 1e-9)
}

func TestScore_TopFactorsOrderedDescending(t *testing.T) {
	scores := AxisScores{AxisUtility: 0.9, AxisSafety: 0.5, AxisFeasibility: 0.1, AxisAlignment: 0.0, AxisNovelty: 0.0}
	weights := Weights{} // uniform
	r := Score(scores, weights)
	assert.Equal(t, []Axis{AxisUtility, AxisSafety}, r.TopFactors)
}

func TestScore_ClampsOutOfRangeInputs(t *testing.T) {
	scores := AxisScores{AxisUtility: 2.0, AxisSafety: -1.0}
	r := Score(scores, Weights{})
	assert.Equal(t, 1.0, r.Scores[AxisUtility])
	assert.Equal(t, 0.0, r.Scores[AxisSafety])
}

func TestScore_RationaleNamesTopFactors(t *testing.T) {
	scores := AxisScores{AxisUtility: 1.0}
	r := Score(scores, Weights{AxisUtility: 1.0})
	assert.Contains(t, r.Rationale, "utility")
}

func TestScore_AllZeroProducesEmptyTopFactorsAndRationale(t *testing.T) {
	r := Score(AxisScores{}, Weights{})
	assert.Empty(t, r.TopFactors)
	assert.Equal(t, "no axis scored above zero", r.Rationale)
}
