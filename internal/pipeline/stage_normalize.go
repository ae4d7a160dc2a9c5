package pipeline

import (
	"context"

	"github.com/veritas-os/veritas/internal/errs"
	"github.com/veritas-os/veritas/internal/schema"
)

// NormalizeStage coerces the request per spec.md §3's invariants and
// rejects an over-length query. Failure here is always fatal: a request
// that cannot be normalized cannot be reasoned about.
type NormalizeStage struct{}

func (NormalizeStage) Name() string { return "normalize" }

func (NormalizeStage) Run(_ context.Context, pc *Context) error {
	n, err := schema.Coerce(pc.Request, pc.RawRequest)
	if err != nil {
		return errs.New(errs.KindInvalidInput, "pipeline: normalize failed", err).WithStage("normalize")
	}
	pc.Normalized = n
	pc.Alternatives = n.Request.Alternatives
	pc.UserID = n.Request.Context.UserID
	return nil
}
