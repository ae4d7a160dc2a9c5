package pipeline

import (
	"context"

	"github.com/veritas-os/veritas/internal/fuji"
)

// GateStage runs the FUJI safety gate over the query and the leading
// candidate action; its decision_status becomes resp.decision_status
// (spec.md §4.1).
type GateStage struct {
	Gate *fuji.Gate
}

func (GateStage) Name() string { return "gate" }

func (s GateStage) Run(_ context.Context, pc *Context) error {
	pc.Gate = s.Gate.Evaluate(gateCandidateText(pc))
	return nil
}

// gateCandidateText concatenates the query with the top-ranked
// alternative, so the gate evaluates the full candidate action rather
// than just the raw query.
func gateCandidateText(pc *Context) string {
	text := pc.Normalized.Request.Query
	if len(pc.Alternatives) > 0 {
		top := pc.Alternatives[0]
		text += " " + top.Title + " " + top.Description
	}
	return text
}
