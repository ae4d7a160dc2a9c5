package outbox_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/veritas-os/veritas/internal/outbox"
	"github.com/veritas-os/veritas/internal/pgmirror"
)

// TestWorker_Integration_DrainsToPostgres exercises the full path the
// teacher's internal/search outbox worker exercises against Qdrant:
// enqueue against a real backend, drain, and confirm the write landed,
// rather than the fakeMirror substitute used by the unit tests in
// worker_test.go.
func TestWorker_Integration_DrainsToPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers integration test in -short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "timescale/timescaledb:latest-pg18",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "veritas",
			"POSTGRES_PASSWORD": "veritas",
			"POSTGRES_DB":       "veritas",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://veritas:veritas@%s:%s/veritas?sslmode=disable", host, port.Port())

	bootstrapConn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	_, err = bootstrapConn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	require.NoError(t, err)
	_ = bootstrapConn.Close(ctx)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	mirror, err := pgmirror.NewPostgres(ctx, dsn, logger)
	require.NoError(t, err)

	w := outbox.NewWorker(mirror, logger)
	w.Start(ctx)

	rec := pgmirror.DecisionRecord{
		RequestID:      uuid.NewString(),
		UserID:         "user-1",
		DecisionStatus: "allowed",
		Risk:           0.05,
		PolicyVersion:  "v1",
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
	w.Enqueue(rec)

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	w.Drain(drainCtx) // also closes mirror

	verifyConn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	defer func() { _ = verifyConn.Close(ctx) }()

	var status string
	err = verifyConn.QueryRow(ctx,
		"SELECT decision_status FROM veritas_decision_mirror WHERE request_id = $1", rec.RequestID,
	).Scan(&status)
	require.NoError(t, err)
	require.Equal(t, "allowed", status)
}
