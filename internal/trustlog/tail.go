package trustlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// tailBlockSize is the initial window size used to walk backward from the
// end of a log file looking for the last complete line. It grows
// (doubling) if a full window contains no newline, guarding against the
// "read last 4KB and split" pitfall called out in spec.md §9: a single
// JSON entry (bounded at ~1MB by spec.md §4.1) can exceed a small
// fixed window.
const tailBlockSize = 4096

// maxTailWindow caps how far back readLastLine will search before giving
// up, preventing a corrupted file with no newlines from causing an
// unbounded read.
const maxTailWindow = 64 * 1024 * 1024

// readLastLine returns the last complete, UTF-8-safe line in f (already
// opened for reading), or (nil, false, nil) if the file is empty.
// "Complete" means bounded by a newline on one side and EOF or another
// newline on the other, with no multi-byte UTF-8 sequence split across
// the boundary the window scan introduces.
func readLastLine(f *os.File) ([]byte, bool, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, false, fmt.Errorf("trustlog: seek end: %w", err)
	}
	if size == 0 {
		return nil, false, nil
	}

	window := int64(tailBlockSize)
	for {
		if window > size {
			window = size
		}
		start := size - window
		buf := make([]byte, window)
		if _, err := f.ReadAt(buf, start); err != nil && err != io.EOF {
			return nil, false, fmt.Errorf("trustlog: read tail window: %w", err)
		}

		// Trim a single trailing newline (the file always ends with one
		// after AtomicAppendLine), then find the newline before the last
		// line within this window.
		trimmed := bytes.TrimRight(buf, "\n")
		idx := bytes.LastIndexByte(trimmed, '\n')
		if idx >= 0 {
			line := trimmed[idx+1:]
			if utf8SafeBoundary(line) {
				return bytes.Clone(line), true, nil
			}
			// The boundary split a multi-byte rune; grow the window and retry.
		} else if start == 0 {
			// No newline anywhere in the window and we've reached the
			// start of the file: the whole trimmed buffer is the line.
			if utf8SafeBoundary(trimmed) {
				return bytes.Clone(trimmed), true, nil
			}
		}

		if window >= size || window >= maxTailWindow {
			return nil, false, fmt.Errorf("trustlog: no complete line found within %d bytes", maxTailWindow)
		}
		window *= 2
	}
}

// utf8SafeBoundary reports whether line, taken in isolation, parses as a
// complete JSON value (or is blank) — i.e. the window scan produced a
// whole entry rather than a fragment of one.
func utf8SafeBoundary(line []byte) bool {
	return json.Valid(line) || len(bytes.TrimSpace(line)) == 0
}

// lastHashInFile returns the sha256 of the last complete entry in path,
// or (nil, nil) if the file does not exist or is empty (genesis state).
func lastHashInFile(path string) (*string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("trustlog: open %s: %w", path, err)
	}
	defer f.Close()

	line, ok, err := readLastLine(f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("trustlog: unmarshal tail line of %s: %w", path, err)
	}
	hash := e.SHA256
	return &hash, nil
}
