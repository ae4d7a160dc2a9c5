// Package trustlog implements the append-only, hash-chained audit log
// described in spec.md §3/§4.3/§6: JSON Lines entries, chained via
// sha256_prev, rotated by size with a marker file carrying the chain
// across rotations, and independently verifiable.
package trustlog

import (
	"encoding/json"
	"time"
)

// Entry is one line in the chained log (spec.md §3 TrustLogEntry).
type Entry struct {
	RequestID   string         `json:"request_id"`
	CreatedAt   string         `json:"created_at"` // ISO-8601 UTC
	Stage       string         `json:"stage"`
	Payload     map[string]any `json:"payload"`
	SHA256Prev  *string        `json:"sha256_prev"`
	SHA256      string         `json:"sha256"`
	SchemaVer   int            `json:"schema_version"`
}

// CurrentSchemaVersion is stamped on every entry this package writes, so a
// future format change can be detected during verification (grounded in
// the teacher's internal/integrity versioned-hash-prefix pattern).
const CurrentSchemaVersion = 1

// hashableEntry is Entry minus the hash fields themselves — the payload
// that gets canonicalized and hashed per spec.md §6.
type hashableEntry struct {
	RequestID  string         `json:"request_id"`
	CreatedAt  string         `json:"created_at"`
	Stage      string         `json:"stage"`
	Payload    map[string]any `json:"payload"`
	SHA256Prev *string        `json:"sha256_prev"`
	SchemaVer  int            `json:"schema_version"`
}

func (e Entry) withoutHashes() hashableEntry {
	return hashableEntry{
		RequestID:  e.RequestID,
		CreatedAt:  e.CreatedAt,
		Stage:      e.Stage,
		Payload:    e.Payload,
		SHA256Prev: e.SHA256Prev,
		SchemaVer:  e.SchemaVer,
	}
}

// NewEntry builds an Entry with CreatedAt stamped as ISO-8601 UTC. The
// SHA256/SHA256Prev fields are filled in by Log.Append.
func NewEntry(requestID, stage string, payload map[string]any) Entry {
	return Entry{
		RequestID: requestID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Stage:     stage,
		Payload:   payload,
		SchemaVer: CurrentSchemaVersion,
	}
}

func marshalLine(e Entry) ([]byte, error) {
	return json.Marshal(e)
}
