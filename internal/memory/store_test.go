package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder derives a deterministic vector by adding each byte of the
// text into position i%dim, just enough variation to exercise cosine ranking in tests without
// depending on a real model.
type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Dim() int { return f.dim }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dim)
	for i := range v {
		v[i] = 0
	}
	for i, c := range []byte(text) {
		v[i%f.dim] += float32(c)
	}
	return v, nil
}

func newTestStoreMem(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, fakeEmbedder{dim: 8}, 0)
	require.NoError(t, err)
	return s
}

func TestPut_RejectsUnknownKind(t *testing.T) {
	s := newTestStoreMem(t)
	_, err := s.Put(context.Background(), "u1", Kind("bogus"), "hello", nil)
	require.Error(t, err)
}

func TestPut_RejectsEmptyText(t *testing.T) {
	s := newTestStoreMem(t)
	_, err := s.Put(context.Background(), "u1", KindEpisodic, "", nil)
	require.Error(t, err)
}

func TestPutThenGet_RoundTrips(t *testing.T) {
	s := newTestStoreMem(t)
	id, err := s.Put(context.Background(), "u1", KindSemantic, "the sky is blue", map[string]any{"src": "test"})
	require.NoError(t, err)

	rec, err := s.Get("u1", id)
	require.NoError(t, err)
	assert.Equal(t, "the sky is blue", rec.Text)
	assert.Equal(t, KindSemantic, rec.Kind)
}

func TestGet_WrongUserReturnsNotFound(t *testing.T) {
	s := newTestStoreMem(t)
	id, err := s.Put(context.Background(), "u1", KindEpisodic, "private note", nil)
	require.NoError(t, err)

	_, err = s.Get("u2", id)
	require.Error(t, err)
}

func TestSearch_IsolatesByUser(t *testing.T) {
	s := newTestStoreMem(t)
	ctx := context.Background()
	_, err := s.Put(ctx, "u1", KindEpisodic, "u1's private memory about cats", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "u2", "cats", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_ReturnsOwnedRecords(t *testing.T) {
	s := newTestStoreMem(t)
	ctx := context.Background()
	_, err := s.Put(ctx, "u1", KindEpisodic, "favorite food is pizza", nil)
	require.NoError(t, err)
	_, err = s.Put(ctx, "u1", KindEpisodic, "favorite color is blue", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "u1", "pizza", 5, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "u1", r.UserID)
	}
}

func TestSearch_FiltersByKind(t *testing.T) {
	s := newTestStoreMem(t)
	ctx := context.Background()
	_, err := s.Put(ctx, "u1", KindEpisodic, "episodic memory text", nil)
	require.NoError(t, err)
	_, err = s.Put(ctx, "u1", KindSemantic, "semantic memory text", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "u1", "memory", 10, []Kind{KindSemantic})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, KindSemantic, r.Kind)
	}
}

func TestEviction_CapsRecordsPerUser(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, fakeEmbedder{dim: 4}, 3)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Put(ctx, "u1", KindEpisodic, "memory entry", map[string]any{"i": i})
		require.NoError(t, err)
	}

	sh := s.shardFor("u1")
	sh.mu.Lock()
	count := len(sh.records)
	sh.mu.Unlock()
	assert.LessOrEqual(t, count, 3)
}

func TestRebuildIndex_ReflectsCurrentRecords(t *testing.T) {
	s := newTestStoreMem(t)
	ctx := context.Background()
	_, err := s.Put(ctx, "u1", KindEpisodic, "a fact about whales", nil)
	require.NoError(t, err)

	require.NoError(t, s.RebuildIndex("u1"))

	results, err := s.Search(ctx, "u1", "whales", 5, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestOpen_ReloadsExistingRecordsFromDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(dir, fakeEmbedder{dim: 4}, 0)
	require.NoError(t, err)
	id, err := s1.Put(ctx, "u1", KindEpisodic, "persisted memory", nil)
	require.NoError(t, err)

	s2, err := Open(dir, fakeEmbedder{dim: 4}, 0)
	require.NoError(t, err)
	rec, err := s2.Get("u1", id)
	require.NoError(t, err)
	assert.Equal(t, "persisted memory", rec.Text)
}
