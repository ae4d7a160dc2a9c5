package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-os/veritas/internal/pgmirror"
)

// fakeMirror records MirrorDecision calls and can be configured to fail
// the first N attempts, exercising the worker's retry path without
// standing up a real database.
type fakeMirror struct {
	mu       sync.Mutex
	received []pgmirror.DecisionRecord
	failN    int
	closed   bool
}

func (f *fakeMirror) MirrorDecision(ctx context.Context, rec pgmirror.DecisionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("fakeMirror: injected failure")
	}
	f.received = append(f.received, rec)
	return nil
}

func (f *fakeMirror) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeMirror) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func testRecord() pgmirror.DecisionRecord {
	return pgmirror.DecisionRecord{
		RequestID:      uuid.NewString(),
		UserID:         "user-1",
		DecisionStatus: "allowed",
		Risk:           0.1,
		PolicyVersion:  "v1",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestWorker_EnqueueAndDrain_DeliversToMirror(t *testing.T) {
	mirror := &fakeMirror{}
	w := NewWorker(mirror, slog.Default())
	w.Start(context.Background())

	rec := testRecord()
	w.Enqueue(rec)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Drain(ctx)

	assert.Equal(t, 1, mirror.count())
	assert.True(t, mirror.closed)
}

func TestWorker_RetriesTransientFailures(t *testing.T) {
	mirror := &fakeMirror{failN: 2}
	w := NewWorker(mirror, slog.Default())
	w.Start(context.Background())

	w.Enqueue(testRecord())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Drain(ctx)

	assert.Equal(t, 1, mirror.count())
}

func TestWorker_DropsAfterMaxAttempts(t *testing.T) {
	mirror := &fakeMirror{failN: maxAttempts}
	w := NewWorker(mirror, slog.Default())
	w.Start(context.Background())

	w.Enqueue(testRecord())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Drain(ctx)

	assert.Equal(t, 0, mirror.count())
}

func TestWorker_NilMirror_EnqueueIsNoOp(t *testing.T) {
	w := NewWorker(nil, slog.Default())
	w.Start(context.Background())
	w.Enqueue(testRecord()) // must not block or panic

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Drain(ctx)
}

func TestWorker_QueueFull_DropsNewestJob(t *testing.T) {
	mirror := &fakeMirror{}
	w := NewWorker(mirror, slog.Default())
	// Do not Start the loop: fill the queue directly so Enqueue's
	// full-queue branch is exercised deterministically.
	for i := 0; i < queueCapacity; i++ {
		w.queue <- testRecord()
	}
	w.Enqueue(testRecord()) // queue is full; must drop, not block

	require.Len(t, w.queue, queueCapacity)
}

func TestWorker_StartTwice_SecondCallIsIgnored(t *testing.T) {
	mirror := &fakeMirror{}
	w := NewWorker(mirror, slog.Default())
	w.Start(context.Background())
	w.Start(context.Background()) // must not launch a second loop or panic

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Drain(ctx)
}
