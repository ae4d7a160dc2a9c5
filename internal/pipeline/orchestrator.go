package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-os/veritas/internal/errs"
	"github.com/veritas-os/veritas/internal/fuji"
	"github.com/veritas-os/veritas/internal/schema"
)

// parseOrNewUUID parses id as a UUID, falling back to a freshly generated
// one when id is empty or malformed; schema.Coerce already guarantees a
// RequestID is set, so the error path here only covers a caller-supplied
// non-UUID string (spec.md §3: "request_id (UUID if absent)").
func parseOrNewUUID(id string) (uuid.UUID, error) {
	if id == "" {
		return uuid.New(), nil
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.New(), err
	}
	return u, nil
}

// ResponseVersion is stamped onto every DecideResponse.
const ResponseVersion = "1.0"

// DefaultDecideTimeout bounds one Decide call end to end, per spec.md
// §5's deadline/cancellation model, when the caller's context carries no
// deadline of its own.
const DefaultDecideTimeout = 60 * time.Second

// Orchestrator runs the fixed stage sequence from spec.md §4.1:
// normalize -> plan -> collect_evidence -> critique -> debate -> score ->
// gate -> finalize. It owns stage timing, the recoverable/fatal
// classification from spec.md §7, and final response assembly.
type Orchestrator struct {
	Normalize NormalizeStage
	Plan      PlanStage
	Evidence  CollectEvidenceStage
	Critique  CritiqueStage
	Debate    DebateStage
	Score     ScoreStage
	Gate      GateStage
	Finalize  FinalizeStage

	AutoStop *fuji.AutoStopBreaker
	Log      *slog.Logger
}

// degradableStages returns part of the fixed sequence in order. normalize and gate/finalize
// are handled specially (normalize failures are always fatal; gate/
// finalize run after scoring), so this lists only the middle,
// degrade-on-failure stages.
func (o *Orchestrator) degradableStages() []Stage {
	return []Stage{o.Plan, o.Evidence, o.Critique, o.Debate}
}

// Decide runs the full pipeline for req and returns an assembled
// DecideResponse. It never panics; every failure path produces a
// response with ok/error/decision_status set per spec.md §7.
func (o *Orchestrator) Decide(ctx context.Context, req schema.DecideRequest, raw map[string]any) schema.DecideResponse {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDecideTimeout)
		defer cancel()
	}

	pc := newContext(req, raw)

	if err := o.runStage(ctx, o.Normalize, pc); err != nil {
		return o.errorResponse(pc, err)
	}

	for _, stage := range o.degradableStages() {
		if err := o.runStage(ctx, stage, pc); err != nil {
			if ctx.Err() != nil {
				return o.deadlineResponse(pc)
			}
			if errs.Recoverable(errs.KindOf(err)) {
				pc.markDegraded(stage.Name())
				o.logDegraded(stage.Name(), pc.Normalized.Request.RequestID, err)
				continue
			}
			return o.errorResponse(pc, err)
		}
		if ctx.Err() != nil {
			return o.deadlineResponse(pc)
		}
	}

	if err := o.runStage(ctx, o.Score, pc); err != nil {
		return o.errorResponse(pc, err)
	}

	if err := o.runStage(ctx, o.Gate, pc); err != nil {
		return o.errorResponse(pc, err)
	}
	if o.AutoStop != nil {
		o.AutoStop.Observe(pc.Gate, o.Gate.Gate.CurrentPolicy())
		if o.AutoStop.Tripped() {
			pc.Gate.Status = fuji.StatusHumanReview
		}
	}

	rankAlternatives(pc)

	if err := o.runStage(ctx, o.Finalize, pc); err != nil {
		// finalize failures are logged but never withhold an
		// already-computed decision (spec.md §4.1: finalize assembles the
		// response regardless of whether the audit write itself degraded).
		pc.markDegraded("finalize")
		o.logDegraded("finalize", pc.Normalized.Request.RequestID, err)
	}

	return o.assembleResponse(pc, "")
}

func (o *Orchestrator) runStage(ctx context.Context, s Stage, pc *Context) error {
	start := time.Now()
	err := s.Run(ctx, pc)
	pc.recordTiming(s.Name(), time.Since(start))
	return err
}

func (o *Orchestrator) logDegraded(stage, requestID string, err error) {
	if o.Log == nil {
		return
	}
	o.Log.Warn("pipeline: stage degraded",
		slog.String("stage", stage),
		slog.String("request_id", requestID),
		slog.String("kind", string(errs.KindOf(err))),
		slog.Any("error", err),
	)
}

// rankAlternatives orders alternatives by score descending, ties broken
// by original input order (stable sort preserves input order for equal
// scores), per spec.md §4.1.
func rankAlternatives(pc *Context) {
	type ranked struct {
		alt    schema.AltItem
		values schema.ValuesOut
		idx    int
	}
	rs := make([]ranked, len(pc.Alternatives))
	for i, a := range pc.Alternatives {
		var v schema.ValuesOut
		if i < len(pc.Values) {
			v = pc.Values[i]
		}
		rs[i] = ranked{alt: a, values: v, idx: i}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].alt.Score > rs[j].alt.Score
	})
	alts := make([]schema.AltItem, len(rs))
	values := make([]schema.ValuesOut, len(rs))
	for i, r := range rs {
		alts[i] = r.alt
		values[i] = r.values
	}
	pc.Alternatives = alts
	pc.Values = values
}

// errorResponse builds a fatal-path response: ok=false, error set,
// decision_status derived from the error kind (spec.md §7).
func (o *Orchestrator) errorResponse(pc *Context, err error) schema.DecideResponse {
	resp := o.assembleResponse(pc, "")
	resp.OK = false
	resp.Error = err.Error()
	switch errs.KindOf(err) {
	case errs.KindInvalidInput:
		resp.DecisionStatus = "rejected"
		resp.RejectionReason = "invalid_input"
	case errs.KindPolicyError:
		resp.DecisionStatus = "rejected"
		resp.RejectionReason = "policy_error"
	default:
		resp.DecisionStatus = "rejected"
		resp.RejectionReason = "internal_error"
	}
	return resp
}

// deadlineResponse builds the abstain response for a context that
// expired mid-pipeline (spec.md §5: "DeadlineExceeded response ...
// decision_status = abstain").
func (o *Orchestrator) deadlineResponse(pc *Context) schema.DecideResponse {
	resp := o.assembleResponse(pc, "")
	resp.OK = false
	resp.Error = "deadline exceeded"
	resp.DecisionStatus = "abstain"
	resp.RejectionReason = "deadline_exceeded"
	return resp
}

// assembleResponse builds the common response shape from pc, regardless
// of whether the pipeline ran to completion or stopped early. Callers on
// the error/deadline paths overwrite OK/Error/DecisionStatus afterward.
func (o *Orchestrator) assembleResponse(pc *Context, _ string) schema.DecideResponse {
	alternatives, options, events := schema.MirrorForResponse(pc.Normalized)
	if len(pc.Alternatives) > 0 {
		alternatives = pc.Alternatives
		options = pc.Alternatives
	}

	var chosen *schema.AltItem
	decisionStatus := string(pc.Gate.Status)
	var rejectionReason string
	if len(alternatives) > 0 {
		c := alternatives[0]
		chosen = &c
		if pc.Gate.Status == "rejected" {
			rejectionReason = "gate_rejected"
		}
	}

	reqID := pc.Normalized.Request.RequestID
	parsedID, _ := parseOrNewUUID(reqID)

	resp := schema.DecideResponse{
		OK:              true,
		RequestID:       parsedID,
		Version:         ResponseVersion,
		Chosen:          chosen,
		Alternatives:    alternatives,
		Options:         options,
		DecisionStatus:  decisionStatus,
		RejectionReason: rejectionReason,
		Values:          pc.Values,
		TelosScore:      pc.TelosScore,
		Fuji: schema.FujiDecision{
			DecisionStatus: string(pc.Gate.Status),
			Risk:           pc.Gate.Risk,
			MatchedSignals: pc.Gate.MatchedSignals,
			PolicyVersion:  pc.Gate.PolicyVersion,
		},
		Gate: schema.GateOut{
			Risk:           pc.Gate.Risk,
			DecisionStatus: string(pc.Gate.Status),
		},
		Critique:        pc.Critique,
		Debate:          pc.Debate,
		Plan:            pc.Plan,
		Planner:         pc.Plan,
		MemoryCitations: pc.MemoryCitations,
		MemoryUsedCount: len(pc.MemoryCitations),
		TrustLog:        pc.TrustEntry,
		Extras:          pc.Normalized.Request.ExtraKeys,
		CoercionEvents:  events,
		Meta:            schema.Meta{XCoercedFields: schema.XCoercedFields(events)},
		StageTimings:    pc.StageTimings,
		LatencyMS:       time.Since(pc.startedAt).Milliseconds(),
	}
	if pc.TrustEntryRaw != nil {
		resp.TrustLogRaw = pc.TrustEntryRaw
		resp.CoercionEvents = append(resp.CoercionEvents, schema.CoercionEvent{
			Name:   "coercion.trust_log_promotion_failed",
			Detail: "trust log entry retained as raw payload; promotion to the typed entry failed",
		})
	}
	for _, item := range pc.Evidence {
		resp.Evidence = append(resp.Evidence, item)
	}
	if len(pc.DegradedStages) > 0 {
		if resp.Extras == nil {
			resp.Extras = map[string]any{}
		}
		resp.Extras["stage_degraded"] = pc.DegradedStages
	}
	return resp
}
