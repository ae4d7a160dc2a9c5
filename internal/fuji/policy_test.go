package fuji

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_Validates(t *testing.T) {
	p := DefaultPolicy(time.Now())
	require.NoError(t, p.Validate())
}

func TestValidate_RejectsNonMonotonicThresholds(t *testing.T) {
	p := DefaultPolicy(time.Now())
	p.RiskThresholds.WarnUpper = 0.1 // now below AllowUpper=0.4
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monotonically non-decreasing")
}

func TestValidate_RejectsUnknownAuditLevel(t *testing.T) {
	p := DefaultPolicy(time.Now())
	p.LogRetention.AuditLevel = "extreme"
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit_level")
}

func TestValidate_RejectsBadUpdatedAt(t *testing.T) {
	p := DefaultPolicy(time.Now())
	p.UpdatedAt = "not-a-date"
	err := p.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsUnknownSignalWeightKey(t *testing.T) {
	p := DefaultPolicy(time.Now())
	p.SignalWeights["made_up_signal"] = 0.5
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown signal_weights key")
}

func TestClassify_BucketsByThreshold(t *testing.T) {
	p := DefaultPolicy(time.Now())
	p.RiskThresholds = RiskThresholds{AllowUpper: 0.2, WarnUpper: 0.4, HumanReviewUpper: 0.6, DenyUpper: 0.8}

	cases := []struct {
		risk   float64
		status DecisionStatus
		warned bool
	}{
		{0.1, StatusAllow, false},
		{0.3, StatusAllow, true},
		{0.5, StatusHumanReview, false},
		{0.7, StatusModify, false},
		{0.9, StatusRejected, false},
	}
	for _, c := range cases {
		status, warned := p.Classify(c.risk)
		assert.Equal(t, c.status, status, "risk=%v", c.risk)
		assert.Equal(t, c.warned, warned, "risk=%v", c.risk)
	}
}

func TestNormalizedWeight_UniformWhenAllZero(t *testing.T) {
	p := DefaultPolicy(time.Now())
	for k := range p.SignalWeights {
		p.SignalWeights[k] = 0
	}
	w := p.NormalizedWeight("pii")
	assert.InDelta(t, 1.0/float64(len(KnownSignals)), w, 1e-9)
}

func TestNormalizedWeight_SumsToOne(t *testing.T) {
	p := DefaultPolicy(time.Now())
	var sum float64
	for _, s := range KnownSignals {
		sum += p.NormalizedWeight(s)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}
