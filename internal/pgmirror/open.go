package pgmirror

import (
	"context"
	"log/slog"
	"path/filepath"
)

// Open selects the Postgres mirror when dsn is non-empty, falling back
// to an embedded SQLite mirror rooted at dataDir otherwise. The
// distinction is invisible to every caller above the Mirror interface.
func Open(ctx context.Context, dsn, dataDir string, logger *slog.Logger) (Mirror, error) {
	// Built explicitly rather than returned directly from the
	// constructors: a (*PostgresMirror)(nil), error) pair returned as a
	// bare Mirror would produce a non-nil interface wrapping a nil
	// pointer, and every caller here tests the interface against nil.
	if dsn != "" {
		pm, err := NewPostgres(ctx, dsn, logger)
		if err != nil {
			return nil, err
		}
		return pm, nil
	}
	sm, err := NewSQLite(filepath.Join(dataDir, "decision_mirror.db"))
	if err != nil {
		return nil, err
	}
	return sm, nil
}
