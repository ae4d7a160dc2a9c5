// Package outbox decouples the pipeline's hot path from slow,
// non-canonical side effects — today, writing to the Postgres/SQLite
// decision mirror — the same way the teacher's internal/search outbox
// worker decouples a decision write from its Qdrant sync. TrustLog
// append is still synchronous (it is the one write that must succeed
// before a response is trustworthy); everything in this package runs
// after that, off the request goroutine, and can fail silently.
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veritas-os/veritas/internal/pgmirror"
)

// queueCapacity bounds how many pending mirror writes can wait behind a
// slow or unavailable mirror before new jobs are dropped. The mirror is
// never a correctness dependency (spec.md §4.8), so dropping under
// sustained backpressure is the correct behavior, not a bug to fix by
// growing the queue unboundedly.
const queueCapacity = 1024

// maxAttempts caps per-job retries; a job that still fails after this
// many tries is dropped and logged.
const maxAttempts = 3

// Worker drains a bounded queue of mirror writes on a single background
// goroutine, retrying transient failures with a short linear backoff
// (50ms times the attempt number).
type Worker struct {
	mirror pgmirror.Mirror
	logger *slog.Logger
	queue  chan pgmirror.DecisionRecord

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	stopOnce   sync.Once
}

// NewWorker builds a Worker over mirror. mirror may be nil, in which
// case Enqueue is a silent no-op (no mirror backend configured).
func NewWorker(mirror pgmirror.Mirror, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		mirror: mirror,
		logger: logger,
		queue:  make(chan pgmirror.DecisionRecord, queueCapacity),
		done:   make(chan struct{}),
	}
}

// Start launches the drain loop. With no mirror configured it does
// nothing; a second call is ignored with a warning.
func (w *Worker) Start(ctx context.Context) {
	if w.mirror == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("outbox: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.loop(loopCtx)
}

// Enqueue submits rec for mirroring without blocking the caller. If the
// queue is full or no mirror is configured, the job is dropped and a
// warning is logged; this is a deliberate lossy boundary, not an error
// path the pipeline should ever see.
func (w *Worker) Enqueue(rec pgmirror.DecisionRecord) {
	if w.mirror == nil {
		return
	}
	select {
	case w.queue <- rec:
	default:
		w.logger.Warn("outbox: queue full, dropping decision mirror write", slog.String("request_id", rec.RequestID))
	}
}

// Drain cancels the drain loop, which flushes the jobs already queued
// before it exits, waits for the loop to finish (or ctx to expire), and
// closes the mirror connection. Enqueue keeps accepting jobs after Drain;
// those jobs are not processed. When Start never launched the loop,
// Drain returns only once ctx expires.
func (w *Worker) Drain(ctx context.Context) {
	w.stopOnce.Do(func() {
		if w.cancelLoop != nil {
			w.cancelLoop()
		}
	})
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("outbox: drain timed out, pending mirror writes discarded")
	}
	if w.mirror != nil {
		if err := w.mirror.Close(); err != nil {
			w.logger.Warn("outbox: close mirror", slog.Any("error", err))
		}
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.drainRemaining()
			return
		case rec := <-w.queue:
			w.process(rec)
		}
	}
}

// drainRemaining flushes whatever is already queued before the worker
// exits, giving in-flight decisions a last chance to mirror.
func (w *Worker) drainRemaining() {
	for {
		select {
		case rec := <-w.queue:
			w.process(rec)
		default:
			return
		}
	}
}

func (w *Worker) process(rec pgmirror.DecisionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = w.mirror.MirrorDecision(ctx, rec); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	w.logger.Warn("outbox: mirror write failed after retries",
		slog.String("request_id", rec.RequestID), slog.Any("error", err))
}
