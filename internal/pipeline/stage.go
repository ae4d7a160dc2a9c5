package pipeline

import "context"

// Stage is the common capability every pipeline step implements, per
// spec.md §9's design note replacing a monolithic pipeline function with
// a sequence of stage objects composed by an orchestrator.
type Stage interface {
	Name() string
	Run(ctx context.Context, pc *Context) error
}
