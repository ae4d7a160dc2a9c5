package fuji

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicyFile(t *testing.T, path string, p Policy) {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestNewStore_MissingFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	_, err := NewStore(filepath.Join(dir, "policy.json"), nil)
	require.Error(t, err)
}

func TestNewStore_InvalidPolicyAtStartupIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewStore(path, nil)
	require.Error(t, err)
}

func TestStore_Current_ReturnsLoadedPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	writePolicyFile(t, path, DefaultPolicy(time.Now()))

	store, err := NewStore(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", store.Current().Version)
}

func TestStore_Current_PicksUpChangeAfterMtimeAdvances(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	writePolicyFile(t, path, DefaultPolicy(time.Now()))

	store, err := NewStore(path, nil)
	require.NoError(t, err)
	require.Equal(t, "v1", store.Current().Version)

	updated := DefaultPolicy(time.Now())
	updated.Version = "v2"
	updated.RiskThresholds.AllowUpper = 0.1
	// Ensure the mtime strictly advances even on coarse filesystem clocks.
	time.Sleep(10 * time.Millisecond)
	writePolicyFile(t, path, updated)

	assert.Eventually(t, func() bool {
		return store.Current().Version == "v2"
	}, time.Second, 10*time.Millisecond)
}

func TestStore_Current_KeepsPreviousPolicyOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	writePolicyFile(t, path, DefaultPolicy(time.Now()))

	store, err := NewStore(path, nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0o600))

	// Several Current() calls should all keep returning the last-good policy.
	for i := 0; i < 3; i++ {
		assert.Equal(t, "v1", store.Current().Version)
	}
}

func TestStore_Watch_StopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	writePolicyFile(t, path, DefaultPolicy(time.Now()))

	store, err := NewStore(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after context cancellation")
	}
}
