// Package pipeline implements the Decide orchestrator: a fixed sequence
// of stages, each satisfying a common {Run(ctx) → ctx} capability, that
// produce a schema.DecideResponse from a schema.DecideRequest (spec.md
// §4.1, §9's "express as a sequence of stage objects" design note).
package pipeline

import (
	"time"

	"github.com/veritas-os/veritas/internal/fuji"
	"github.com/veritas-os/veritas/internal/memory"
	"github.com/veritas-os/veritas/internal/schema"
	"github.com/veritas-os/veritas/internal/trustlog"
)

// EvidenceItem is one piece of supporting evidence collected from memory
// or web search, scored by relevance·reliability per spec.md §4.1.
type EvidenceItem struct {
	Source      string  `json:"source"`
	Content     string  `json:"content"`
	Relevance   float64 `json:"relevance"`
	Reliability float64 `json:"reliability"`
}

func (e EvidenceItem) score() float64 { return e.Relevance * e.Reliability }

// Context is the accumulating state threaded through every stage. Each
// stage reads fields earlier stages populated and appends its own.
type Context struct {
	Request    schema.DecideRequest
	RawRequest map[string]any
	UserID     string

	Normalized schema.Normalized

	Plan map[string]any

	MemoryResults   []memory.Record
	Evidence        []EvidenceItem
	MemoryCitations []string

	Critique map[string]any
	Debate   map[string]any

	Alternatives []schema.AltItem
	Values       []schema.ValuesOut
	TelosScore   float64

	Gate fuji.Verdict

	TrustEntry    *trustlog.Entry
	TrustEntryRaw []byte

	DegradedStages []string
	StageTimings   map[string]int64 // milliseconds, keyed by stage name

	// FatalErr, once set by a stage, stops the orchestrator and shapes the
	// final response (spec.md §4.1's "fatal" classification).
	FatalErr error

	startedAt time.Time
}

func newContext(req schema.DecideRequest, raw map[string]any) *Context {
	return &Context{
		Request:      req,
		RawRequest:   raw,
		StageTimings: make(map[string]int64),
		startedAt:    time.Now(),
	}
}

func (c *Context) markDegraded(stage string) {
	c.DegradedStages = append(c.DegradedStages, stage)
}

func (c *Context) recordTiming(stage string, d time.Duration) {
	c.StageTimings[stage] = d.Milliseconds()
}
