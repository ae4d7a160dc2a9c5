// Package memory implements the episodic/semantic key-value store with
// vector similarity search described in spec.md §4.4.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// Kind is a MemoryRecord's category. Only VALID_MEMORY_KINDS (the values
// below) are accepted; an unknown kind fails the request rather than
// being silently coerced, per spec.md §4.4.
type Kind string

const (
	KindEpisodic Kind = "episodic"
	KindSemantic Kind = "semantic"
	KindDocument Kind = "document"
	KindCitation Kind = "citation"
)

// ValidKinds is the whitelist referenced throughout spec.md as
// VALID_MEMORY_KINDS.
var ValidKinds = map[Kind]bool{
	KindEpisodic: true,
	KindSemantic: true,
	KindDocument: true,
	KindCitation: true,
}

// MaxTextBytes caps a single record's text, per spec.md §5's resource cap
// table (embedder input <= 100,000 chars).
const MaxTextBytes = 100_000

// Record is a MemoryRecord (spec.md §3). It is created by Put and
// mutated only by full replacement, never in place.
type Record struct {
	ID             uuid.UUID      `json:"id"`
	UserID         string         `json:"user_id"`
	Kind           Kind           `json:"kind"`
	Text           string         `json:"text"`
	Embedding      []float32      `json:"embedding"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	AccessCount    int64          `json:"access_count"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
}

// touch records an access for LRU eviction purposes.
func (r *Record) touch(now time.Time) {
	r.AccessCount++
	r.LastAccessedAt = now
}
