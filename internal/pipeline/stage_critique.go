package pipeline

import (
	"context"
	"fmt"

	"github.com/veritas-os/veritas/internal/errs"
	"github.com/veritas-os/veritas/internal/llmclient"
)

// MaxAlternatives, MaxFieldsPerAlternative and MaxFieldChars bound the
// payload critique/debate stages may reason over, per spec.md §4.1: "100
// options × 10 fields × 10,000 chars, total ≤ 1 MB".
const (
	MaxAlternatives         = 100
	MaxFieldsPerAlternative = 10
	MaxFieldChars           = 10_000
	MaxTotalPayloadBytes    = 1 << 20
)

// CritiqueStage asks the ChatCompleter to critique the current
// alternatives. Same degrade-not-fail policy as PlanStage.
type CritiqueStage struct {
	Chat llmclient.ChatCompleter
}

func (CritiqueStage) Name() string { return "critique" }

func (s CritiqueStage) Run(ctx context.Context, pc *Context) error {
	pc.Critique = map[string]any{}
	if s.Chat == nil {
		return errs.New(errs.KindCapabilityUnavailable, "pipeline: no ChatCompleter configured", nil).WithStage("critique")
	}

	alts := boundAlternatives(pc.Alternatives)
	prompt := fmt.Sprintf(
		"Critique these candidate alternatives for weaknesses and risks, as a "+
			"single JSON object with a \"concerns\" array of strings. Alternatives: %v",
		alts,
	)
	resp, err := s.Chat.Chat(ctx, llmclient.ChatRequest{
		System: "You produce only a single JSON object, no prose.",
		Prompt: prompt,
	})
	if err != nil {
		return errs.New(errs.KindCapabilityUnavailable, "pipeline: critique chat call failed", err).WithStage("critique")
	}

	critique, err := llmclient.ExtractJSONObject(resp.Text)
	if err != nil {
		return errs.New(errs.KindCapabilityUnavailable, "pipeline: critique response was not extractable JSON", err).WithStage("critique")
	}
	pc.Critique = critique
	return nil
}
