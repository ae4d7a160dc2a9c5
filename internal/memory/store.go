package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-os/veritas/internal/atomicio"
	"github.com/veritas-os/veritas/internal/errs"
)

// DefaultMaxRecordsPerUser resolves Open Question (spec.md §9): the
// per-user cap is configuration, not a hard-coded constant. This is the
// fallback when config supplies none, surfaced as
// VERITAS_MEMORY_MAX_RECORDS_PER_USER by internal/config.
const DefaultMaxRecordsPerUser = 10_000

// shard holds everything mutable for one user: the record cache (keyed
// by ID, guarded by mu) and the published immutable index snapshot
// (swapped atomically so Search never sees a partial rebuild, per
// spec.md §4.4/§4.6).
type shard struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
	index   atomic.Pointer[flatIndex]
}

// Store is the file-backed, per-user-sharded memory subsystem.
type Store struct {
	dir        string
	embedder   Embedder
	maxPerUser int
	indexLock  *atomicio.ReentrantLock
	shardsMu   sync.RWMutex
	shards     map[string]*shard

	// ann is the optional accelerated tier (spec.md §4.9/EXPANSION). When
	// nil, Search always falls back to the in-process flatIndex.
	ann *ANNIndex
}

// SetANNIndex attaches an optional Qdrant-backed ANN tier. Passing nil
// disables it, reverting Search to the flat index.
func (s *Store) SetANNIndex(ann *ANNIndex) { s.ann = ann }

// Open returns a Store rooted at dir (typically
// $VERITAS_DATA_DIR/memory), loading any records already on disk.
func Open(dir string, embedder Embedder, maxPerUser int) (*Store, error) {
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxRecordsPerUser
	}
	if err := atomicio.EnsureDir(dir); err != nil {
		return nil, errs.New(errs.KindTransientIO, "memory: create directory", err)
	}
	s := &Store{
		dir:        dir,
		embedder:   embedder,
		maxPerUser: maxPerUser,
		indexLock:  atomicio.NewReentrantLock(),
		shards:     make(map[string]*shard),
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) userDir(userID string) string {
	return filepath.Join(s.dir, safeUserSegment(userID))
}

// safeUserSegment keeps user_id values out of path traversal; it is not
// a general slug function, just a defensive filter for the one place a
// caller-controlled string becomes a path component.
func safeUserSegment(userID string) string {
	out := make([]byte, 0, len(userID))
	for i := 0; i < len(userID); i++ {
		c := userID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}

func (s *Store) shardFor(userID string) *shard {
	s.shardsMu.RLock()
	sh, ok := s.shards[userID]
	s.shardsMu.RUnlock()
	if ok {
		return sh
	}

	s.shardsMu.Lock()
	defer s.shardsMu.Unlock()
	if sh, ok := s.shards[userID]; ok {
		return sh
	}
	sh = &shard{records: make(map[uuid.UUID]*Record)}
	s.shards[userID] = sh
	return sh
}

func (s *Store) loadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.New(errs.KindTransientIO, "memory: read data dir", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		userID := e.Name()
		recs, err := s.loadUser(userID)
		if err != nil {
			return err
		}
		sh := s.shardFor(userID)
		for _, r := range recs {
			sh.records[r.ID] = r
		}
		sh.index.Store(buildFlatIndex(recs))
	}
	return nil
}

func (s *Store) loadUser(userID string) ([]*Record, error) {
	dir := filepath.Join(s.dir, userID)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.New(errs.KindTransientIO, "memory: read user dir", err)
	}
	var recs []*Record
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		r, err := readRecordFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// Put derives an embedding, writes the record atomically, and rebuilds
// the user's index under the write lock, per spec.md §4.4.
func (s *Store) Put(ctx context.Context, userID string, kind Kind, text string, metadata map[string]any) (uuid.UUID, error) {
	if !ValidKinds[kind] {
		return uuid.Nil, errs.New(errs.KindInvalidInput, fmt.Sprintf("memory: unknown kind %q", kind), nil)
	}
	if text == "" {
		return uuid.Nil, errs.New(errs.KindInvalidInput, "memory: text must not be empty", nil)
	}
	if len(text) > MaxTextBytes {
		text = text[:MaxTextBytes]
	}
	if s.embedder == nil {
		return uuid.Nil, errs.New(errs.KindCapabilityUnavailable, "memory: no embedder capability configured", nil)
	}
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return uuid.Nil, errs.New(errs.KindCapabilityUnavailable, "memory: embed text", err)
	}

	now := time.Now().UTC()
	rec := &Record{
		ID: uuid.New(), UserID: userID, Kind: kind, Text: text,
		Embedding: embedding, CreatedAt: now, Metadata: metadata,
		LastAccessedAt: now,
	}

	var id uuid.UUID
	err = s.indexLock.WithLock(rec.ID.String(), func() error {
		if err := atomicio.AtomicWriteJSON(s.recordPath(userID, rec.ID), rec); err != nil {
			return errs.New(errs.KindTransientIO, "memory: write record", err)
		}

		sh := s.shardFor(userID)
		sh.mu.Lock()
		sh.records[rec.ID] = rec
		evicted := s.evictIfOverCapLocked(sh)
		snapshot := snapshotRecords(sh.records)
		sh.mu.Unlock()

		sh.index.Store(buildFlatIndex(snapshot))
		id = rec.ID
		if s.ann != nil && len(evicted) > 0 {
			if annErr := s.ann.DeleteByIDs(ctx, evicted); annErr != nil {
				slog.Warn("memory: ann cleanup of evicted records failed",
					slog.Any("error", annErr))
			}
		}
		return nil
	})
	if err == nil && s.ann != nil {
		if annErr := s.ann.Upsert(ctx, *rec); annErr != nil {
			slog.Warn("memory: ann upsert failed, flat index remains authoritative",
				slog.String("record_id", rec.ID.String()), slog.Any("error", annErr))
		}
	}
	return id, err
}

// evictIfOverCapLocked removes the least-recently-accessed records once
// the shard exceeds maxPerUser, returning the evicted IDs. Must be
// called with sh.mu held.
func (s *Store) evictIfOverCapLocked(sh *shard) []uuid.UUID {
	if len(sh.records) <= s.maxPerUser {
		return nil
	}
	var evicted []uuid.UUID
	for len(sh.records) > s.maxPerUser {
		var oldestID uuid.UUID
		var oldest time.Time
		var oldestUserID string
		first := true
		for id, r := range sh.records {
			if first || r.LastAccessedAt.Before(oldest) {
				oldestID, oldest, oldestUserID, first = id, r.LastAccessedAt, r.UserID, false
			}
		}
		delete(sh.records, oldestID)
		_ = os.Remove(s.recordPath(oldestUserID, oldestID)) // best-effort; file may already be gone
		evicted = append(evicted, oldestID)
	}
	return evicted
}

func (s *Store) recordPath(userID string, id uuid.UUID) string {
	return filepath.Join(s.userDir(userID), id.String()+".json")
}

// Get returns the record with id if owned by userID, per spec.md §4.4's
// ownership invariant.
func (s *Store) Get(userID string, id uuid.UUID) (Record, error) {
	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r, ok := sh.records[id]
	if !ok || r.UserID != userID {
		return Record{}, errs.New(errs.KindNotFound, "memory: record not found", nil)
	}
	r.touch(time.Now().UTC())
	out := *r
	return out, nil
}

// Search embeds query, snapshots the current index pointer, and returns
// the top-k owned records, per spec.md §4.4. kinds restricts to a
// subset; nil/empty means all kinds.
func (s *Store) Search(ctx context.Context, userID, query string, k int, kinds []Kind) ([]Record, error) {
	if s.embedder == nil {
		return nil, errs.New(errs.KindCapabilityUnavailable, "memory: no embedder capability configured", nil)
	}
	queryEmb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errs.New(errs.KindCapabilityUnavailable, "memory: embed query", err)
	}

	var kindSet map[Kind]bool
	if len(kinds) > 0 {
		kindSet = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			kindSet[k] = true
		}
	}

	results := s.searchANNThenFlat(ctx, userID, queryEmb, k, kindSet)

	sh := s.shardFor(userID)
	sh.mu.Lock()
	now := time.Now().UTC()
	for i := range results {
		if r, ok := sh.records[results[i].ID]; ok {
			r.touch(now)
		}
	}
	sh.mu.Unlock()

	return results, nil
}

// searchANNThenFlat tries the optional ANN tier first, re-scoring its
// candidate IDs against the live record cache (never trusting Qdrant's
// payload as the source of truth). Any ANN error, or its absence, falls
// back to a full flat-index scan: the ANN tier is strictly a latency
// optimization, never a correctness dependency.
func (s *Store) searchANNThenFlat(ctx context.Context, userID string, queryEmb []float32, k int, kindSet map[Kind]bool) []Record {
	sh := s.shardFor(userID)

	if s.ann != nil {
		ids, err := s.ann.Search(ctx, userID, queryEmb, k)
		if err != nil {
			slog.Warn("memory: ann search failed, falling back to flat index",
				slog.String("user_id", userID), slog.Any("error", err))
		} else {
			sh.mu.Lock()
			candidates := make([]*Record, 0, len(ids))
			for _, id := range ids {
				if r, ok := sh.records[id]; ok && r.UserID == userID {
					candidates = append(candidates, r)
				}
			}
			sh.mu.Unlock()
			return buildFlatIndex(candidates).search(queryEmb, k, kindSet)
		}
	}

	idx := sh.index.Load() // immutable snapshot pointer; safe to read without the lock
	if idx == nil {
		return nil
	}
	return idx.search(queryEmb, k, kindSet)
}

// RebuildIndex rebuilds userID's index off the current record cache and
// atomically swaps the published pointer, per spec.md §4.4. Readers
// holding the old *flatIndex finish their search against it safely.
func (s *Store) RebuildIndex(userID string) error {
	return s.indexLock.WithLock(uuid.NewString(), func() error {
		sh := s.shardFor(userID)
		sh.mu.Lock()
		snapshot := snapshotRecords(sh.records)
		sh.mu.Unlock()
		sh.index.Store(buildFlatIndex(snapshot))
		return nil
	})
}

func snapshotRecords(m map[uuid.UUID]*Record) []*Record {
	out := make([]*Record, 0, len(m))
	for _, r := range m {
		cp := *r
		out = append(out, &cp)
	}
	return out
}
