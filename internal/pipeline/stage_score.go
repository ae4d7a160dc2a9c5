package pipeline

import (
	"context"
	"strings"

	"github.com/veritas-os/veritas/internal/schema"
	"github.com/veritas-os/veritas/internal/valuecore"
)

// ScoreStage runs ValueCore (spec.md §4.5) over every alternative. Axis
// inputs are derived heuristically from the stage outputs gathered so
// far (client-supplied prior score, critique concerns, requested goals
// and allowed tools, and evidence overlap) since the spec leaves the
// exact axis-input derivation unspecified; this mirrors the teacher's
// additive named-factor scoring style in quality.Score.
type ScoreStage struct {
	Tracker *valuecore.Tracker
}

func (ScoreStage) Name() string { return "score" }

func (s ScoreStage) Run(_ context.Context, pc *Context) error {
	weights := valuecore.NormalizeWeights(telosWeights(pc.Normalized.Request.Context.TelosWeights))

	values := make([]schema.ValuesOut, len(pc.Alternatives))
	var top float64
	for i, alt := range pc.Alternatives {
		axisScores := scoreAlternative(pc, alt)
		result := valuecore.Score(axisScores, weights)
		values[i] = schema.ValuesOut{
			Scores:     axisScoresToMap(result.Scores),
			Total:      result.Total,
			TopFactors: axesToStrings(result.TopFactors),
			Rationale:  result.Rationale,
		}
		pc.Alternatives[i].Score = result.Total
		if result.Total > top {
			top = result.Total
		}
	}
	pc.Values = values
	pc.TelosScore = top

	if s.Tracker != nil && pc.UserID != "" {
		// EMA drift is non-fatal bookkeeping; a write failure never blocks
		// the pipeline from producing a decision.
		_, _ = s.Tracker.Update(pc.UserID, top)
	}
	return nil
}

func telosWeights(in map[string]float64) valuecore.Weights {
	w := valuecore.Weights{}
	for k, v := range in {
		switch valuecore.Axis(k) {
		case valuecore.AxisUtility, valuecore.AxisSafety, valuecore.AxisFeasibility, valuecore.AxisAlignment, valuecore.AxisNovelty:
			w[valuecore.Axis(k)] = v
		}
	}
	return w
}

// scoreAlternative derives the five per-axis [0,1] inputs for one
// alternative from everything gathered by earlier stages.
func scoreAlternative(pc *Context, alt schema.AltItem) valuecore.AxisScores {
	utility := alt.Score
	if utility <= 0 {
		utility = 0.5 // no client-supplied prior; treat as neutral
	}

	safety := 1.0 - concernPenalty(pc.Critique, alt)
	feasibility := toolsFeasibility(pc.Normalized.Request.Context.ToolsAllowed, alt)
	alignment := goalAlignment(pc.Normalized.Request.Context.Goals, alt)
	novelty := 1.0 - evidenceOverlap(pc.Evidence, alt)

	return valuecore.AxisScores{
		valuecore.AxisUtility:     utility,
		valuecore.AxisSafety:      safety,
		valuecore.AxisFeasibility: feasibility,
		valuecore.AxisAlignment:   alignment,
		valuecore.AxisNovelty:     novelty,
	}
}

// concernPenalty returns a [0,1] penalty proportional to how many of the
// critique stage's named concerns mention this alternative by title.
func concernPenalty(critique map[string]any, alt schema.AltItem) float64 {
	concerns, _ := critique["concerns"].([]any)
	if len(concerns) == 0 || alt.Title == "" {
		return 0
	}
	title := strings.ToLower(alt.Title)
	var hits int
	for _, c := range concerns {
		if s, ok := c.(string); ok && strings.Contains(strings.ToLower(s), title) {
			hits++
		}
	}
	penalty := float64(hits) / float64(len(concerns))
	if penalty > 1 {
		penalty = 1
	}
	return penalty
}

// toolsFeasibility scores 1.0 when the alternative names no required
// tools or every tool it names is in tools_allowed; otherwise scores the
// fraction that is allowed.
func toolsFeasibility(toolsAllowed []string, alt schema.AltItem) float64 {
	required, _ := alt.Metadata["tools_required"].([]any)
	if len(required) == 0 {
		return 1.0
	}
	allowed := make(map[string]bool, len(toolsAllowed))
	for _, t := range toolsAllowed {
		allowed[strings.ToLower(t)] = true
	}
	var ok int
	for _, r := range required {
		if s, isStr := r.(string); isStr && allowed[strings.ToLower(s)] {
			ok++
		}
	}
	return float64(ok) / float64(len(required))
}

// goalAlignment scores the fraction of requested goals whose keywords
// appear in the alternative's title or description.
func goalAlignment(goals []string, alt schema.AltItem) float64 {
	if len(goals) == 0 {
		return 0.5 // no stated goals; neither rewarded nor penalized
	}
	haystack := strings.ToLower(alt.Title + " " + alt.Description)
	var hits int
	for _, g := range goals {
		if g != "" && strings.Contains(haystack, strings.ToLower(g)) {
			hits++
		}
	}
	return float64(hits) / float64(len(goals))
}

// evidenceOverlap scores how much of the collected evidence already
// discusses this alternative; high overlap means the idea is well-trodden
// rather than novel.
func evidenceOverlap(evidence []EvidenceItem, alt schema.AltItem) float64 {
	if len(evidence) == 0 || alt.Title == "" {
		return 0
	}
	title := strings.ToLower(alt.Title)
	var hits int
	for _, e := range evidence {
		if strings.Contains(strings.ToLower(e.Content), title) {
			hits++
		}
	}
	overlap := float64(hits) / float64(len(evidence))
	if overlap > 1 {
		overlap = 1
	}
	return overlap
}

func axisScoresToMap(s valuecore.AxisScores) map[string]float64 {
	out := make(map[string]float64, len(s))
	for k, v := range s {
		out[string(k)] = v
	}
	return out
}

func axesToStrings(axes []valuecore.Axis) []string {
	out := make([]string, len(axes))
	for i, a := range axes {
		out[i] = string(a)
	}
	return out
}
