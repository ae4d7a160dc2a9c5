package pgmirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

const sqliteSchemaDDL = `
CREATE TABLE IF NOT EXISTS veritas_decision_mirror (
	request_id      TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	decision_status TEXT NOT NULL,
	risk            REAL NOT NULL,
	policy_version  TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	embedding       TEXT
)`

// SQLiteMirror is the embedded fallback used when no DATABASE_URL is
// configured: same mirror semantics as PostgresMirror, a single file on
// cfg.DataDir, no external service to stand up. pgvector's similarity
// search has no SQLite equivalent in this pack, so the embedding column
// is stored as a JSON array and is not queryable here; it exists only
// so a later promotion to PostgresMirror carries the same record shape.
type SQLiteMirror struct {
	db *sql.DB
}

// NewSQLite opens (creating if absent) a SQLite database at path.
func NewSQLite(path string) (*SQLiteMirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("pgmirror: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid pool contention on a single file
	if _, err := db.Exec(sqliteSchemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgmirror: create mirror table: %w", err)
	}
	return &SQLiteMirror{db: db}, nil
}

// MirrorDecision upserts rec.
func (m *SQLiteMirror) MirrorDecision(ctx context.Context, rec DecisionRecord) error {
	var embedding any
	if len(rec.Embedding) > 0 {
		b, err := json.Marshal(rec.Embedding)
		if err != nil {
			return fmt.Errorf("pgmirror: marshal embedding: %w", err)
		}
		embedding = string(b)
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO veritas_decision_mirror (request_id, user_id, decision_status, risk, policy_version, created_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id) DO UPDATE SET
			decision_status = excluded.decision_status,
			risk            = excluded.risk,
			policy_version  = excluded.policy_version`,
		rec.RequestID, rec.UserID, rec.DecisionStatus, rec.Risk, rec.PolicyVersion, rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), embedding)
	if err != nil {
		return fmt.Errorf("pgmirror: insert decision: %w", err)
	}
	return nil
}

// Close closes the underlying *sql.DB.
func (m *SQLiteMirror) Close() error {
	return m.db.Close()
}
