package atomicio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Z string `json:"z"`
	A int    `json:"a"`
}

func TestAtomicWriteJSON_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "obj.json")

	require.NoError(t, AtomicWriteJSON(path, sample{Z: "zed", A: 1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got sample
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, sample{Z: "zed", A: 1}, got)

	// Keys are canonicalized (sorted) in the raw bytes.
	assert.Equal(t, `{"a":1,"z":"zed"}`, string(data))
}

func TestAtomicWriteJSON_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obj.json")

	require.NoError(t, AtomicWriteJSON(path, sample{Z: "v1"}))
	require.NoError(t, AtomicWriteJSON(path, sample{Z: "v2"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "v2")
	assert.NotContains(t, string(data), "v1")

	// No leftover temp files.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAtomicAppendLine_OrderPreserved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")

	for i := 0; i < 5; i++ {
		require.NoError(t, AtomicAppendLine(path, []byte(`{"n":`+string(rune('0'+i))+`}`)))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := splitLines(string(data))
	require.Len(t, lines, 5)
	for i, l := range lines {
		assert.Contains(t, l, string(rune('0'+i)))
	}
}

func TestAtomicAppendLine_ConcurrentAppendsAllLand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex // serializes appends the way TrustLog's reentrant lock would
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			_ = AtomicAppendLine(path, []byte(`{"i":1}`))
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, splitLines(string(data)), n)
}

func TestCheckSafePath_RefusesSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, SetBase(root))
	defer func() { base = "" }()

	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	require.NoError(t, os.Symlink(outside, link))

	err := CheckSafePath(filepath.Join(link, "f.json"), link)
	assert.Error(t, err)
}

func TestCheckSafePath_RefusesOutsideBase(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, SetBase(root))
	defer func() { base = "" }()

	err := CheckSafePath("/tmp/definitely-outside-base.json", "/tmp")
	assert.Error(t, err)
}

func TestNPZ_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.npz")

	arrays := map[string][]float32{
		"embedding": {0.1, 0.2, 0.3, -1.5},
		"weights":   {1, 2, 3},
	}
	require.NoError(t, AtomicWriteNPZ(path, arrays))

	got, err := ReadNPZ(path)
	require.NoError(t, err)
	assert.Equal(t, arrays["embedding"], got["embedding"])
	assert.Equal(t, arrays["weights"], got["weights"])
}

func TestReentrantLock_SameTokenDoesNotDeadlock(t *testing.T) {
	l := NewReentrantLock()
	l.Lock("req-1")
	l.Lock("req-1") // reentrant: must not block
	l.Unlock("req-1")
	l.Unlock("req-1")
}

func TestReentrantLock_DifferentTokenBlocksUntilReleased(t *testing.T) {
	l := NewReentrantLock()
	l.Lock("req-1")

	done := make(chan struct{})
	go func() {
		l.Lock("req-2")
		l.Unlock("req-2")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("req-2 acquired lock while req-1 held it")
	default:
	}

	l.Unlock("req-1")
	<-done
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	return lines
}
