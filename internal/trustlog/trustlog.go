package trustlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/veritas-os/veritas/internal/atomicio"
	"github.com/veritas-os/veritas/internal/errs"
)

// CurrentFileName is the name of the active (non-archived) log file
// within a Log's directory.
const CurrentFileName = "trust_log.jsonl"

// MarkerFileName records the last hash across a rotation, per spec.md §6.
const MarkerFileName = "trust_log.marker"

// DefaultMaxLogSize is used when a Log is constructed with maxSize <= 0.
const DefaultMaxLogSize = 64 * 1024 * 1024

// Log is an append-only, hash-chained, rotating audit log rooted at one
// directory. One Log instance should be shared by all callers writing to
// a given directory; it serializes writers via an internal reentrant
// lock (spec.md §4.3/§5).
type Log struct {
	dir     string
	maxSize int64
	lock    *atomicio.ReentrantLock
}

// Open returns a Log rooted at dir, creating the directory if needed.
func Open(dir string, maxSize int64) (*Log, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	if err := atomicio.EnsureDir(dir); err != nil {
		return nil, errs.New(errs.KindTransientIO, "trustlog: create directory", err)
	}
	return &Log{dir: dir, maxSize: maxSize, lock: atomicio.NewReentrantLock()}, nil
}

func (l *Log) currentPath() string { return filepath.Join(l.dir, CurrentFileName) }
func (l *Log) markerPath() string  { return filepath.Join(l.dir, MarkerFileName) }

// Append writes one entry to the log under the lock, following the
// protocol in spec.md §4.3: compute sha256_prev from the current chain
// tip, hash the canonicalized entry, append atomically, then rotate if
// the file has grown past maxSize. lockToken scopes reentrancy (pass the
// request ID so a single Decide call may append from nested stages
// without deadlocking itself, per spec.md §4.6).
func (l *Log) Append(lockToken, requestID, stage string, payload map[string]any) (Entry, error) {
	var result Entry
	err := l.lock.WithLock(lockToken, func() error {
		prevHash, err := l.getChainTip()
		if err != nil {
			return errs.New(errs.KindTransientIO, "trustlog: read chain tip", err)
		}

		entry := NewEntry(requestID, stage, payload)
		entry.SHA256Prev = prevHash

		hash, err := computeHash(entry)
		if err != nil {
			return errs.New(errs.KindInternal, "trustlog: compute hash", err)
		}
		entry.SHA256 = hash

		line, err := marshalLine(entry)
		if err != nil {
			return errs.New(errs.KindInternal, "trustlog: marshal entry", err)
		}
		if err := atomicio.AtomicAppendLine(l.currentPath(), line); err != nil {
			return errs.New(errs.KindTransientIO, "trustlog: append", err)
		}
		result = entry

		return l.rotateIfNeeded()
	})
	return result, err
}

// getChainTip returns the sha256 of the most recent entry across the
// current file and, if the current file is empty/absent, the marker left
// by the last rotation. nil means genesis (no entries ever written).
func (l *Log) getChainTip() (*string, error) {
	hash, err := lastHashInFile(l.currentPath())
	if err != nil {
		return nil, err
	}
	if hash != nil {
		return hash, nil
	}
	return readMarker(l.markerPath())
}

// computeHash implements spec.md §3's sha256 formula:
//
//	sha256 = SHA-256(sha256_prev || canonical(entry_without_hashes))
func computeHash(e Entry) (string, error) {
	canonical, err := atomicio.CanonicalJSON(e.withoutHashes())
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if e.SHA256Prev != nil {
		h.Write([]byte(*e.SHA256Prev))
	}
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// rotateIfNeeded archives the current file when it exceeds maxSize,
// per spec.md §4.3. Must be called with the lock held.
func (l *Log) rotateIfNeeded() error {
	info, err := os.Stat(l.currentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.New(errs.KindTransientIO, "trustlog: stat current file", err)
	}
	if info.Size() < l.maxSize {
		return nil
	}

	lastHash, err := lastHashInFile(l.currentPath())
	if err != nil {
		return errs.New(errs.KindTransientIO, "trustlog: read last hash before rotate", err)
	}

	// Archive names have one-second resolution; when an earlier rotation
	// already took the name, advance to the next free second so that
	// archive is not overwritten and names still sort chronologically.
	ts := time.Now().UTC().Truncate(time.Second)
	archivePath := filepath.Join(l.dir, fmt.Sprintf("trust_log.%s.jsonl", ts.Format("20060102T150405Z")))
	for {
		if _, err := os.Lstat(archivePath); err != nil {
			break
		}
		ts = ts.Add(time.Second)
		archivePath = filepath.Join(l.dir, fmt.Sprintf("trust_log.%s.jsonl", ts.Format("20060102T150405Z")))
	}

	if atomicio.IsSymlink(l.currentPath()) || atomicio.IsSymlink(archivePath) {
		return errs.New(errs.KindInvalidInput, "trustlog: refusing to rotate through a symlink", nil)
	}
	if err := os.Rename(l.currentPath(), archivePath); err != nil {
		return errs.New(errs.KindTransientIO, "trustlog: rename for rotation", err)
	}
	if err := atomicio.FsyncDir(l.dir); err != nil {
		return errs.New(errs.KindTransientIO, "trustlog: fsync dir after rotation", err)
	}
	if err := writeMarker(l.markerPath(), lastHash); err != nil {
		return errs.New(errs.KindTransientIO, "trustlog: write rotation marker", err)
	}
	return nil
}

// marker is the JSON body of trust_log.marker.
type marker struct {
	LastHash *string `json:"last_hash"`
	RotatedAt string `json:"rotated_at"`
}

func writeMarker(path string, lastHash *string) error {
	return atomicio.AtomicWriteJSON(path, marker{LastHash: lastHash, RotatedAt: time.Now().UTC().Format(time.RFC3339Nano)})
}

func readMarker(path string) (*string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m.LastHash, nil
}
