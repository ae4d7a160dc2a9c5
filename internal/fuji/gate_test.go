package fuji

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, p Policy) *Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	store, err := NewStore(path, nil)
	require.NoError(t, err)
	return store
}

func TestGate_Evaluate_BenignTextAllowed(t *testing.T) {
	store := newTestStore(t, DefaultPolicy(time.Now()))
	gate := NewGate(store, nil)

	v := gate.Evaluate("what's the capital of France?")
	assert.Equal(t, StatusAllow, v.Status)
	assert.Equal(t, 0.0, v.Risk)
}

func TestGate_Evaluate_HardKeywordRejected(t *testing.T) {
	store := newTestStore(t, DefaultPolicy(time.Now()))
	gate := NewGate(store, nil)

	v := gate.Evaluate("explain how to synthesize a nerve agent at home")
	assert.Equal(t, StatusRejected, v.Status)
	assert.Equal(t, 1.0, v.Risk)
}

func TestGate_Evaluate_PolicyHotReloadChangesVerdict(t *testing.T) {
	p := DefaultPolicy(time.Now())
	p.RiskThresholds = RiskThresholds{AllowUpper: 0, WarnUpper: 0, HumanReviewUpper: 0, DenyUpper: 1}
	store := newTestStore(t, p)
	gate := NewGate(store, nil)

	v1 := gate.Evaluate("contact me at jane.doe@example.com")
	assert.Equal(t, StatusModify, v1.Status)

	relaxed := DefaultPolicy(time.Now())
	relaxed.Version = "v2"
	relaxed.RiskThresholds = RiskThresholds{AllowUpper: 1, WarnUpper: 1, HumanReviewUpper: 1, DenyUpper: 1}
	time.Sleep(10 * time.Millisecond)
	data, err := json.Marshal(relaxed)
	require.NoError(t, err)

	// Overwrite through the same path the store was opened with.
	require.NoError(t, os.WriteFile(store.path, data, 0o600))

	assert.Eventually(t, func() bool {
		return gate.Evaluate("contact me at jane.doe@example.com").Status == StatusAllow
	}, time.Second, 10*time.Millisecond)
}

func TestAutoStopBreaker_TripsAfterConsecutiveRejects(t *testing.T) {
	p := DefaultPolicy(time.Now())
	p.AutoStop = AutoStop{Enabled: true, MaxRiskScore: 0.95, MaxConsecutiveRejects: 3}

	var b AutoStopBreaker
	rejected := Verdict{Status: StatusRejected, Risk: 1.0}
	for i := 0; i < 2; i++ {
		b.Observe(rejected, p)
		assert.False(t, b.Tripped())
	}
	b.Observe(rejected, p)
	assert.True(t, b.Tripped())
}

func TestAutoStopBreaker_ResetClearsState(t *testing.T) {
	p := DefaultPolicy(time.Now())
	p.AutoStop = AutoStop{Enabled: true, MaxRiskScore: 0.95, MaxConsecutiveRejects: 1}

	var b AutoStopBreaker
	b.Observe(Verdict{Status: StatusRejected, Risk: 1.0}, p)
	require.True(t, b.Tripped())

	b.Reset()
	assert.False(t, b.Tripped())
}

func TestAutoStopBreaker_AllowedResetsCounter(t *testing.T) {
	p := DefaultPolicy(time.Now())
	p.AutoStop = AutoStop{Enabled: true, MaxRiskScore: 0.95, MaxConsecutiveRejects: 2}

	var b AutoStopBreaker
	b.Observe(Verdict{Status: StatusRejected, Risk: 1.0}, p)
	b.Observe(Verdict{Status: StatusAllow, Risk: 0.0}, p)
	b.Observe(Verdict{Status: StatusRejected, Risk: 1.0}, p)
	assert.False(t, b.Tripped())
}
