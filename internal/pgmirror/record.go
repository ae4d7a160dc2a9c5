// Package pgmirror maintains a secondary, non-canonical copy of decision
// metadata in Postgres (with pgvector for similarity lookups) or, when
// no DATABASE_URL is configured, an embedded SQLite file. TrustLog
// remains the sole source of truth for a decision's audit trail (spec.md
// §4.3); nothing here is ever read back into the pipeline, so a mirror
// outage degrades observability only, never correctness (spec.md §4.8).
package pgmirror

import (
	"context"
	"time"
)

// DecisionRecord is the row mirrored after a decision's TrustLog entry
// has already been durably appended.
type DecisionRecord struct {
	RequestID      string
	UserID         string
	DecisionStatus string
	Risk           float64
	PolicyVersion  string
	CreatedAt      time.Time
	Embedding      []float32 // optional; nil when no embedder capability is configured
}

// Mirror persists DecisionRecords to whichever backend is configured.
// Both implementations are best-effort: a write failure is logged by the
// caller (the outbox worker) and otherwise swallowed.
type Mirror interface {
	MirrorDecision(ctx context.Context, rec DecisionRecord) error
	Close() error
}
