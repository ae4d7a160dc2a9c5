package fuji

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/veritas-os/veritas/internal/atomicio"
	"github.com/veritas-os/veritas/internal/errs"
)

// atomicWritePolicy writes p to path using the atomic-I/O substrate
// (spec.md §4.6), rather than a bare os.WriteFile, so a crash mid-update
// can never leave a truncated policy file behind.
func atomicWritePolicy(path string, p Policy) error {
	return atomicio.AtomicWriteJSON(path, p)
}

// Store holds the live, hot-reloadable FujiPolicy, per spec.md §4.2.
//
// Reload protocol: on every Current() call, stat the backing file's
// mtime. If it advanced since the last successful load, open the file by
// descriptor, fstat that descriptor (not the path — a second stat call
// would reopen the TOCTOU window), read its full content under the same
// fd, parse, validate invariants, and only then atomically publish the
// new policy. A single reloadMu serializes reloaders, so two goroutines
// racing a reload never both parse-and-publish concurrently; the loser
// simply observes the winner's already-updated mtime cache and returns.
type Store struct {
	path string
	log  *slog.Logger

	reloadMu sync.Mutex
	loadedAt time.Time // mtime of the file as of the last successful load

	mu      sync.RWMutex
	current Policy

	watcher *fsnotify.Watcher
}

// NewStore loads path once (failure here is fatal, per spec.md §4.2: a
// missing or invalid policy file at startup must not silently fall back
// to defaults) and returns a Store ready for Current()/Watch().
func NewStore(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{path: path, log: log}
	if err := s.reload(true); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the live policy, reloading first if the backing file's
// mtime has advanced since the last load. A reload failure is logged and
// swallowed here: Current always returns the last good policy (fail
// closed means reject risky *actions*, never silently loosen the gate by
// falling back to an unvalidated or absent policy).
func (s *Store) Current() Policy {
	if err := s.reload(false); err != nil {
		s.log.Warn("fuji: policy reload failed, continuing with previous policy",
			slog.String("path", s.path), slog.Any("error", err))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// reload implements the fd-based protocol above. must is true only at
// startup, where a load failure is propagated instead of swallowed.
func (s *Store) reload(must bool) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if must {
			return errs.New(errs.KindPolicyError, "fuji: open policy file", err)
		}
		return errs.New(errs.KindPolicyError, "fuji: open policy file for reload", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errs.New(errs.KindPolicyError, "fuji: stat policy fd", err)
	}
	if !must && !info.ModTime().After(s.loadedAt) {
		return nil // another goroutine already won this reload, or file is unchanged
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return errs.New(errs.KindPolicyError, "fuji: read policy fd", err)
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return errs.New(errs.KindPolicyError, "fuji: parse policy JSON", err)
	}
	if err := p.Validate(); err != nil {
		return errs.New(errs.KindPolicyError, "fuji: policy failed validation", err)
	}

	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	s.loadedAt = info.ModTime()

	s.log.Info("fuji: policy loaded", slog.String("path", s.path), slog.String("version", p.Version))
	return nil
}

// Watch starts an fsnotify watch on the policy file's directory and
// triggers an eager reload on write/create events, so a reload is
// attempted promptly rather than only lazily on the next Current() call.
// Events are coalesced by the mtime check inside reload; Watch never
// publishes a policy the caller didn't also validate. It returns once
// ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.New(errs.KindCapabilityUnavailable, "fuji: start policy watcher", err)
	}
	s.watcher = w
	defer w.Close()

	dir := dirOf(s.path)
	if err := w.Add(dir); err != nil {
		return errs.New(errs.KindCapabilityUnavailable, "fuji: watch policy directory", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name != s.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(false); err != nil {
				s.log.Warn("fuji: watched policy reload failed",
					slog.String("path", s.path), slog.Any("error", err))
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("fuji: policy watcher error", slog.Any("error", werr))
		}
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// UpdatePolicy validates p and atomically writes it to the Store's
// backing file, per spec.md §6 ("FujiPolicy file ... atomically replaced
// on update"). It does not publish p into the Store directly: the next
// Current() call observes the new mtime and reloads through the same
// validated fd-read path every other reload takes, so a hand-edited file
// and an API-driven update are indistinguishable to the reload protocol.
func (s *Store) UpdatePolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return errs.New(errs.KindPolicyError, "fuji: rejected policy update", err)
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	if err := atomicWritePolicy(s.path, p); err != nil {
		return errs.New(errs.KindPolicyError, "fuji: write policy update", err)
	}
	return nil
}
