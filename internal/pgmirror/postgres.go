package pgmirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// schemaDDL creates the mirror table if it does not already exist. It
// is applied once, eagerly, at construction time rather than through a
// separate migration tool: this table carries no canonical state, so
// there is nothing here that requires a reviewed, versioned migration.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS veritas_decision_mirror (
	request_id      TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	decision_status TEXT NOT NULL,
	risk            DOUBLE PRECISION NOT NULL,
	policy_version  TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	embedding       VECTOR
)`

// PostgresMirror mirrors decisions into Postgres via pgxpool, following
// the teacher's internal/storage.DB construction pattern: a pooled
// connection with pgvector types registered on every new connection so
// the embedding column round-trips cleanly.
type PostgresMirror struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres opens a pool against dsn, registers pgvector types on
// every connection (best-effort, matching the teacher: the vector
// extension may not exist yet on a fresh database), and ensures the
// mirror table exists.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresMirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgmirror: parse DSN: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("pgmirror: pgvector types not registered (extension may not exist yet)", slog.Any("error", err))
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgmirror: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgmirror: ping pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgmirror: create mirror table: %w", err)
	}

	return &PostgresMirror{pool: pool, logger: logger}, nil
}

// MirrorDecision upserts rec, tolerating replays of the same request_id
// (the outbox worker retries on transient failure, which could
// otherwise double-insert).
func (m *PostgresMirror) MirrorDecision(ctx context.Context, rec DecisionRecord) error {
	var vec *pgvector.Vector
	if len(rec.Embedding) > 0 {
		v := pgvector.NewVector(rec.Embedding)
		vec = &v
	}
	_, err := m.pool.Exec(ctx, `
		INSERT INTO veritas_decision_mirror (request_id, user_id, decision_status, risk, policy_version, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id) DO UPDATE SET
			decision_status = EXCLUDED.decision_status,
			risk             = EXCLUDED.risk,
			policy_version   = EXCLUDED.policy_version`,
		rec.RequestID, rec.UserID, rec.DecisionStatus, rec.Risk, rec.PolicyVersion, rec.CreatedAt, vec)
	if err != nil {
		return fmt.Errorf("pgmirror: insert decision: %w", err)
	}
	return nil
}

// Close releases the pool.
func (m *PostgresMirror) Close() error {
	m.pool.Close()
	return nil
}
