// Package schema defines the DecideRequest/DecideResponse wire types and
// the coercion layer that reconciles the legacy options/alternatives
// duality, per spec.md §3.
package schema

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/veritas-os/veritas/internal/trustlog"
)

// MaxQueryChars bounds DecideRequest.Query, per spec.md §3/§5.
const MaxQueryChars = 10_000

// TimeHorizon is DecideRequest.Context's planning horizon.
type TimeHorizon string

const (
	HorizonShort TimeHorizon = "short"
	HorizonMid   TimeHorizon = "mid"
	HorizonLong  TimeHorizon = "long"
)

// Context is the normalized DecideRequest.context mapping. Unknown keys
// supplied by the caller are preserved in Extra, never dropped.
type Context struct {
	UserID       string             `json:"user_id,omitempty"`
	Goals        []string           `json:"goals,omitempty"`
	Constraints  []string           `json:"constraints,omitempty"`
	TimeHorizon  TimeHorizon        `json:"time_horizon,omitempty"`
	TelosWeights map[string]float64 `json:"telos_weights,omitempty"`
	ToolsAllowed []string           `json:"tools_allowed,omitempty"`
	AffectHint   string             `json:"affect_hint,omitempty"`
	Extra        map[string]any     `json:"-"`
}

// AltItem is one candidate alternative.
type AltItem struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Score       float64        `json:"score,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DecideRequest is the input to the pipeline orchestrator (spec.md §3).
type DecideRequest struct {
	RequestID     string         `json:"request_id,omitempty"`
	Query         string         `json:"query" validate:"required,max=10000"`
	Context       Context        `json:"context,omitempty"`
	Alternatives  []AltItem      `json:"alternatives,omitempty"`
	Options       []AltItem      `json:"options,omitempty"` // legacy mirror; see coerce.go
	MinEvidence   int            `json:"min_evidence,omitempty" validate:"gte=0,lte=100"`
	MemoryAutoPut bool           `json:"memory_auto_put,omitempty"`
	PersonaEvolve bool           `json:"persona_evolve,omitempty"`
	ExtraKeys     map[string]any `json:"-"`
}

// CoercionEvent records one substitution the coercion layer made, so the
// response can carry a full audit trail of what was inferred versus
// supplied, per spec.md §3 invariants 4 and 5.
type CoercionEvent struct {
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

// FujiDecision mirrors the gate's verdict onto the response.
type FujiDecision struct {
	DecisionStatus string   `json:"decision_status"`
	Risk           float64  `json:"risk"`
	MatchedSignals []string `json:"matched_signals,omitempty"`
	PolicyVersion  string   `json:"policy_version"`
}

// GateOut is the response's gate block (spec.md §3).
type GateOut struct {
	Risk           float64  `json:"risk"`
	DecisionStatus string   `json:"decision_status"`
	Modifications  []string `json:"modifications,omitempty"`
}

// ValuesOut is one alternative's scored-values block.
type ValuesOut struct {
	Scores     map[string]float64 `json:"scores"`
	Total      float64            `json:"total"`
	TopFactors []string           `json:"top_factors,omitempty"`
	Rationale  string             `json:"rationale,omitempty"`
}

// Meta carries response-level bookkeeping.
type Meta struct {
	XCoercedFields []string `json:"x_coerced_fields,omitempty"`
}

// DecideResponse is the pipeline's output (spec.md §3).
type DecideResponse struct {
	OK               bool            `json:"ok"`
	Error            string          `json:"error,omitempty"`
	RequestID        uuid.UUID       `json:"request_id"`
	Version          string          `json:"version"`
	Chosen           *AltItem        `json:"chosen,omitempty"`
	Alternatives     []AltItem       `json:"alternatives"`
	Options          []AltItem       `json:"options"`
	DecisionStatus   string          `json:"decision_status"`
	RejectionReason  string          `json:"rejection_reason,omitempty"`
	Values           []ValuesOut     `json:"values,omitempty"`
	TelosScore       float64         `json:"telos_score,omitempty"`
	Fuji             FujiDecision    `json:"fuji"`
	Gate             GateOut         `json:"gate"`
	Evidence         []any           `json:"evidence,omitempty"`
	Critique         any             `json:"critique,omitempty"`
	Debate           any             `json:"debate,omitempty"`
	Plan             any             `json:"plan,omitempty"`
	Planner          any             `json:"planner,omitempty"`
	Persona          any             `json:"persona,omitempty"`
	MemoryCitations  []string        `json:"memory_citations,omitempty"`
	MemoryUsedCount  int             `json:"memory_used_count,omitempty"`
	// TrustLog is the promoted entry when the pipeline's finalize stage
	// successfully typed the append result. TrustLogRaw resolves the open
	// question in spec.md §9: when promotion to the canonical type fails,
	// the raw payload is retained here and a
	// coercion.trust_log_promotion_failed event is emitted, rather than
	// silently dropping the entry.
	TrustLog         *trustlog.Entry `json:"trust_log,omitempty"`
	TrustLogRaw      json.RawMessage `json:"trust_log_raw,omitempty"`
	Extras           map[string]any  `json:"extras,omitempty"`
	CoercionEvents   []CoercionEvent `json:"coercion_events,omitempty"`
	Meta             Meta            `json:"meta"`
	LatencyMS        int64           `json:"latency_ms,omitempty"`
	StageTimings     map[string]int64 `json:"stage_timings,omitempty"`
}
