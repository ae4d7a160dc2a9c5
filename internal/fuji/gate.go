package fuji

import (
	"time"
)

// Verdict is the outcome of running the gate over one candidate action,
// carrying enough detail for a TrustLog "gate" stage entry (spec.md §4.2,
// §6: every gate decision is independently auditable).
type Verdict struct {
	Status         DecisionStatus `json:"decision_status"`
	Risk           float64        `json:"risk_score"`
	Warned         bool           `json:"warned"`
	MatchedSignals []string       `json:"matched_signals,omitempty"`
	PolicyVersion  string         `json:"policy_version"`
	EvaluatedAt    string         `json:"evaluated_at"`
}

// Gate evaluates candidate text against the store's current policy and
// returns a Verdict. safetyHead may be nil (capability absent).
type Gate struct {
	store      *Store
	safetyHead LLMSafetyHeadScorer
	now        func() time.Time
}

// NewGate constructs a Gate backed by store. safetyHead may be nil.
func NewGate(store *Store, safetyHead LLMSafetyHeadScorer) *Gate {
	return &Gate{store: store, safetyHead: safetyHead, now: time.Now}
}

// CurrentPolicy exposes the gate's live policy snapshot, so callers such
// as the orchestrator's auto_stop breaker observe the same thresholds a
// concurrent Evaluate call would (spec.md §5: "all stages within a
// single call observe the same policy snapshot").
func (g *Gate) CurrentPolicy() Policy { return g.store.Current() }

// Evaluate runs every enabled detector over text, combines them into a
// scalar risk via the current policy's weights, and classifies the
// result, per spec.md §4.2 and invariant 3.
func (g *Gate) Evaluate(text string) Verdict {
	policy := g.store.Current()
	signals := DetectSignals(text, policy.Rules, g.safetyHead)
	risk := signals.Risk(policy)
	status, warned := policy.Classify(risk)

	return Verdict{
		Status:         status,
		Risk:           risk,
		Warned:         warned,
		MatchedSignals: signals.MatchedSignals,
		PolicyVersion:  policy.Version,
		EvaluatedAt:    g.now().UTC().Format(time.RFC3339),
	}
}

// AutoStopBreaker tracks consecutive rejections to implement the
// auto_stop circuit breaker (spec.md §4.2): once MaxConsecutiveRejects is
// hit, the breaker trips and Tripped reports true until Reset is called
// (e.g. by an operator action). The breaker does not change Evaluate's
// verdict; the pipeline orchestrator sets the decision to human_review
// while the breaker is tripped.
type AutoStopBreaker struct {
	consecutiveRejects int
	tripped            bool
}

// Observe records one verdict's outcome against the policy's auto_stop
// configuration, tripping the breaker when the threshold is reached.
func (b *AutoStopBreaker) Observe(v Verdict, policy Policy) {
	if !policy.AutoStop.Enabled {
		return
	}
	if v.Status == StatusRejected || v.Risk >= policy.AutoStop.MaxRiskScore {
		b.consecutiveRejects++
	} else {
		b.consecutiveRejects = 0
	}
	if policy.AutoStop.MaxConsecutiveRejects > 0 && b.consecutiveRejects >= policy.AutoStop.MaxConsecutiveRejects {
		b.tripped = true
	}
}

// Tripped reports whether the breaker has tripped since the last Reset.
func (b *AutoStopBreaker) Tripped() bool { return b.tripped }

// Reset clears the breaker, typically via an operator/governance action.
func (b *AutoStopBreaker) Reset() {
	b.consecutiveRejects = 0
	b.tripped = false
}
