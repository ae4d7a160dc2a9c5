// Package atomicio is the concurrency + atomic-I/O substrate shared by
// TrustLog, Memory, and ValueCore (spec.md §4.6). It provides crash-safe
// writes, append, path canonicalization, and per-resource reentrant locks.
//
// No third-party library in the retrieval pack provides crash-safe
// temp-file-plus-rename plus directory fsync; this stays on the standard
// library (os, syscall) — see DESIGN.md.
package atomicio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileMode is the mode used for every file this package creates. Audit
// and policy state is operator-private by design.
const FileMode = 0o600

// DirMode is the mode used when a directory must be created.
const DirMode = 0o700

// AtomicWriteJSON marshals obj as canonical (sorted-key, no insignificant
// whitespace) JSON and writes it to path crash-safely: a temp file in the
// same directory is written, fsynced, renamed over the target with
// os.Rename (POSIX rename is atomic within a filesystem), and the parent
// directory is fsynced so the rename itself is durable.
func AtomicWriteJSON(path string, obj any) error {
	data, err := CanonicalJSON(obj)
	if err != nil {
		return fmt.Errorf("atomicio: marshal %s: %w", path, err)
	}
	return AtomicWriteFile(path, data)
}

// AtomicWriteFile writes data to path using the temp-file-then-rename
// protocol described on AtomicWriteJSON.
func AtomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	if err := CheckSafePath(path, dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("atomicio: create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	cleanTmp := true
	defer func() {
		if cleanTmp {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("atomicio: write temp %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("atomicio: fsync temp %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicio: close temp %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, FileMode); err != nil {
		return fmt.Errorf("atomicio: chmod temp %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomicio: rename %s -> %s: %w", tmpPath, path, err)
	}
	cleanTmp = false

	if err := FsyncDir(dir); err != nil {
		return fmt.Errorf("atomicio: fsync dir %s: %w", dir, err)
	}
	return nil
}

// AtomicAppendLine opens path with O_APPEND (creating it with FileMode if
// absent), writes line followed by a single newline, fsyncs the file, and
// fsyncs the parent directory. Used by TrustLog for durable, ordered
// append.
func AtomicAppendLine(path string, line []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	if err := CheckSafePath(path, dir); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, FileMode)
	if err != nil {
		return fmt.Errorf("atomicio: open %s for append: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("atomicio: append %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("atomicio: fsync %s: %w", path, err)
	}
	if err := FsyncDir(dir); err != nil {
		return fmt.Errorf("atomicio: fsync dir %s: %w", dir, err)
	}
	return nil
}

// EnsureDir creates dir (and parents) with DirMode if it does not exist.
func EnsureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("atomicio: mkdir %s: %w", dir, err)
	}
	return nil
}

// FsyncDir opens dir and calls Sync, forcing the directory entry changes
// (create, rename, unlink) made within it to be durable. On platforms
// where directory fsync is not supported, the error is returned to the
// caller rather than silently ignored.
func FsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("atomicio: open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("atomicio: sync dir %s: %w", dir, err)
	}
	return nil
}

// CanonicalJSON marshals obj to JSON with sorted keys and no insignificant
// whitespace, matching spec.md §6's canonicalization rule for hashing and
// on-disk storage. encoding/json sorts map keys but emits struct fields in
// declared order, so obj is encoded once, decoded into a generic value
// (numbers kept verbatim via UseNumber), and encoded again: every object,
// struct-derived or not, then comes out with sorted keys.
func CanonicalJSON(obj any) ([]byte, error) {
	var raw bytes.Buffer
	enc := json.NewEncoder(&raw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(&raw)
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc = json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; trim it so callers
	// get exactly the canonical bytes with no incidental whitespace.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
