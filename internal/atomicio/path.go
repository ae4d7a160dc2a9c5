package atomicio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Base is the configured root all persistent state must live under
// (VERITAS_DATA_DIR). CheckSafePath refuses any path that would escape it,
// either directly or via a symlink, per spec.md §4.6.
var base string

// SetBase records the configured data directory. Call once at startup.
func SetBase(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("atomicio: resolve base %s: %w", dir, err)
	}
	base = abs
	return EnsureDir(base)
}

// Base returns the configured base directory.
func Base() string { return base }

// CheckSafePath refuses a path that is not relative to the configured
// base, or that reaches outside it via a symlink anywhere on the
// existing portion of the path. dir is the immediate parent directory
// of the path being checked (it may not exist yet).
func CheckSafePath(path, dir string) error {
	if base == "" {
		// No base configured (e.g. unit tests writing to t.TempDir()
		// directly): skip the containment check but still refuse symlinks.
		return checkNoSymlink(path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("atomicio: resolve %s: %w", path, err)
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("atomicio: path %s escapes base %s", path, base)
	}

	return checkNoSymlinkWithin(base, abs)
}

// checkNoSymlink refuses path itself, if it already exists, being a
// symlink.
func checkNoSymlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		// Does not exist yet; nothing to refuse.
		return nil
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("atomicio: refusing symlink at %s", path)
	}
	return nil
}

// checkNoSymlinkWithin walks from root down to target (both absolute,
// target known to be under root) and refuses if any existing path
// component is a symlink.
func checkNoSymlinkWithin(root, target string) error {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return fmt.Errorf("atomicio: resolve relative path: %w", err)
	}
	parts := strings.Split(rel, string(filepath.Separator))
	cur := root
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			// Component does not exist yet (normal for the final path
			// segment being created); nothing further to check.
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("atomicio: refusing symlink component %s", cur)
		}
	}
	return nil
}

// IsSymlink reports whether path exists and is a symlink.
func IsSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}
