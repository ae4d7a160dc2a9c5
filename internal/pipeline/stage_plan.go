package pipeline

import (
	"context"
	"fmt"

	"github.com/veritas-os/veritas/internal/errs"
	"github.com/veritas-os/veritas/internal/llmclient"
)

// PlanStage asks the ChatCompleter capability for a task decomposition
// and extracts it as JSON. A nil completer or any call/extraction
// failure degrades to an empty plan rather than failing the pipeline
// (spec.md §4.1).
type PlanStage struct {
	Chat llmclient.ChatCompleter
}

func (PlanStage) Name() string { return "plan" }

func (s PlanStage) Run(ctx context.Context, pc *Context) error {
	pc.Plan = map[string]any{}
	if s.Chat == nil {
		return errs.New(errs.KindCapabilityUnavailable, "pipeline: no ChatCompleter configured", nil).WithStage("plan")
	}

	prompt := fmt.Sprintf(
		"Decompose the following decision query into a short JSON task plan "+
			"with a \"steps\" array of strings. Query: %q. Context goals: %v, constraints: %v.",
		pc.Normalized.Request.Query, pc.Normalized.Request.Context.Goals, pc.Normalized.Request.Context.Constraints,
	)
	resp, err := s.Chat.Chat(ctx, llmclient.ChatRequest{
		System: "You produce only a single JSON object, no prose.",
		Prompt: prompt,
	})
	if err != nil {
		return errs.New(errs.KindCapabilityUnavailable, "pipeline: plan chat call failed", err).WithStage("plan")
	}

	plan, err := llmclient.ExtractJSONObject(resp.Text)
	if err != nil {
		return errs.New(errs.KindCapabilityUnavailable, "pipeline: plan response was not extractable JSON", err).WithStage("plan")
	}
	pc.Plan = plan
	return nil
}
