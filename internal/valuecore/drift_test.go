package valuecore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_FirstUpdateSeedsBaseline(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), 0)
	require.NoError(t, err)

	report, err := tr.Update("u1", 0.7)
	require.NoError(t, err)
	assert.Equal(t, 0.7, report.Baseline)
	assert.Equal(t, 0.7, report.EMA)
	assert.Equal(t, 0.0, report.DriftPct)
	assert.EqualValues(t, 1, report.Samples)
}

func TestTracker_SubsequentUpdatesSmoothTowardNewValue(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), 0.5)
	require.NoError(t, err)

	_, err = tr.Update("u1", 0.5)
	require.NoError(t, err)
	report, err := tr.Update("u1", 1.0)
	require.NoError(t, err)

	// alpha=0.5: ema = 0.5*1.0 + 0.5*0.5 = 0.75
	assert.InDelta(t, 0.75, report.EMA, 1e-9)
	assert.InDelta(t, 0.5, report.Baseline, 1e-9) // baseline never changes after seeding
}

func TestTracker_DriftPctReflectsDeviationFromBaseline(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), 1.0) // alpha=1 makes EMA track the latest value exactly
	require.NoError(t, err)

	_, err = tr.Update("u1", 0.5)
	require.NoError(t, err)
	report, err := tr.Update("u1", 1.0)
	require.NoError(t, err)

	assert.InDelta(t, 100.0, report.DriftPct, 1e-9) // doubled vs baseline
}

func TestTracker_CurrentDoesNotMutateState(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = tr.Update("u1", 0.5)
	require.NoError(t, err)

	before, err := tr.Current("u1")
	require.NoError(t, err)
	after, err := tr.Current("u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTracker_IsolatesByUser(t *testing.T) {
	tr, err := NewTracker(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = tr.Update("u1", 0.9)
	require.NoError(t, err)

	report, err := tr.Current("u2")
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.Baseline)
	assert.EqualValues(t, 0, report.Samples)
}
