package pipeline

import (
	"context"
	"fmt"

	"github.com/veritas-os/veritas/internal/errs"
	"github.com/veritas-os/veritas/internal/llmclient"
)

// DebateStage asks the ChatCompleter to weigh the critique against the
// alternatives and produce a short pro/con synthesis. Same degrade-not-
// fail policy as PlanStage and CritiqueStage.
type DebateStage struct {
	Chat llmclient.ChatCompleter
}

func (DebateStage) Name() string { return "debate" }

func (s DebateStage) Run(ctx context.Context, pc *Context) error {
	pc.Debate = map[string]any{}
	if s.Chat == nil {
		return errs.New(errs.KindCapabilityUnavailable, "pipeline: no ChatCompleter configured", nil).WithStage("debate")
	}

	alts := boundAlternatives(pc.Alternatives)
	prompt := fmt.Sprintf(
		"Given these alternatives and this critique, produce a single JSON "+
			"object with a \"for\" array and an \"against\" array of short strings. "+
			"Alternatives: %v. Critique: %v",
		alts, pc.Critique,
	)
	resp, err := s.Chat.Chat(ctx, llmclient.ChatRequest{
		System: "You produce only a single JSON object, no prose.",
		Prompt: prompt,
	})
	if err != nil {
		return errs.New(errs.KindCapabilityUnavailable, "pipeline: debate chat call failed", err).WithStage("debate")
	}

	debate, err := llmclient.ExtractJSONObject(resp.Text)
	if err != nil {
		return errs.New(errs.KindCapabilityUnavailable, "pipeline: debate response was not extractable JSON", err).WithStage("debate")
	}
	pc.Debate = debate
	return nil
}
