// Package fuji implements the FUJI safety gate (spec.md §4.2): a
// policy-driven risk classifier that maps a candidate action to an
// ALLOW / MODIFY / HUMAN_REVIEW / REJECT decision, with hot-reloadable
// declarative policy.
package fuji

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// DecisionStatus is the gate's verdict, mirrored onto DecideResponse.decision_status.
type DecisionStatus string

const (
	StatusAllow        DecisionStatus = "allow"
	StatusModify       DecisionStatus = "modify"
	StatusHumanReview  DecisionStatus = "human_review"
	StatusRejected     DecisionStatus = "rejected"
)

// AuditLevel controls how much of a decision's context is persisted to TrustLog.
type AuditLevel string

const (
	AuditNone     AuditLevel = "none"
	AuditMinimal  AuditLevel = "minimal"
	AuditStandard AuditLevel = "standard"
	AuditFull     AuditLevel = "full"
	AuditStrict   AuditLevel = "strict"
)

var validAuditLevels = map[AuditLevel]bool{
	AuditNone: true, AuditMinimal: true, AuditStandard: true, AuditFull: true, AuditStrict: true,
}

// Rules toggles which risk signals are evaluated (spec.md §4.2).
type Rules struct {
	PIIDetection       bool `json:"pii_detection" validate:"-"`
	KeywordHardBlock   bool `json:"keyword_hard_block" validate:"-"`
	KeywordSoftBlock   bool `json:"keyword_soft_block" validate:"-"`
	PromptInjection    bool `json:"prompt_injection" validate:"-"`
	LLMSafetyHead      bool `json:"llm_safety_head" validate:"-"`
	MinorsProtection   bool `json:"minors_protection" validate:"-"`
	ViolenceDetection  bool `json:"violence_detection" validate:"-"`
	SelfHarmDetection  bool `json:"self_harm_detection" validate:"-"`
}

// RiskThresholds buckets the scalar risk into a DecisionStatus. Each bound
// is inclusive of the upper edge of its bucket, per spec.md §4.2:
//
//	risk <= AllowUpper       -> allow
//	risk <= WarnUpper        -> allow (with warning)
//	risk <= HumanReviewUpper -> human_review
//	risk <= DenyUpper        -> modify
//	risk >  DenyUpper        -> rejected
type RiskThresholds struct {
	AllowUpper       float64 `json:"allow_upper" validate:"gte=0,lte=1"`
	WarnUpper        float64 `json:"warn_upper" validate:"gte=0,lte=1"`
	HumanReviewUpper float64 `json:"human_review_upper" validate:"gte=0,lte=1"`
	DenyUpper        float64 `json:"deny_upper" validate:"gte=0,lte=1"`
}

// AutoStop is a circuit breaker configuration for runaway rejection rates.
type AutoStop struct {
	Enabled               bool    `json:"auto_stop"`
	MaxRiskScore          float64 `json:"max_risk_score" validate:"gte=0,lte=1"`
	MaxConsecutiveRejects int     `json:"max_consecutive_rejects" validate:"gte=0"`
	MaxRequestsPerMinute  int     `json:"max_requests_per_minute" validate:"gte=0"`
}

// LogRetention controls TrustLog retention and what gets logged.
type LogRetention struct {
	RetentionDays    int        `json:"retention_days" validate:"gte=0"`
	AuditLevel       AuditLevel `json:"audit_level" validate:"-"`
	IncludeFields    []string   `json:"include_fields"`
	RedactBeforeLog  bool       `json:"redact_before_log"`
	MaxLogSize       int64      `json:"max_log_size" validate:"gte=0"`
}

// Policy is the hot-reloadable FujiPolicy (spec.md §3).
type Policy struct {
	Version        string            `json:"version" validate:"required"`
	Rules          Rules             `json:"fuji_rules"`
	RiskThresholds RiskThresholds    `json:"risk_thresholds"`
	AutoStop       AutoStop          `json:"auto_stop"`
	LogRetention   LogRetention      `json:"log_retention"`
	// SignalWeights resolves Open Question 3 (spec.md §9): the scalar risk
	// weighting of each signal is audit-traceable policy, not hidden in code.
	SignalWeights map[string]float64 `json:"signal_weights"`
	UpdatedAt     string             `json:"updated_at" validate:"required"`
	UpdatedBy     string             `json:"updated_by"`
}

// KnownSignals are the names SignalWeights may key on.
var KnownSignals = []string{
	"pii", "keyword_soft", "prompt_injection", "llm_safety_head",
	"minors", "violence", "self_harm", "illicit",
}

// DefaultPolicy returns a conservative built-in policy, used when no
// on-disk policy exists yet (but see spec.md §4.2: a missing policy file
// at startup is fatal — DefaultPolicy exists for tests and for seeding a
// fresh data directory, not as a silent runtime fallback).
func DefaultPolicy(now time.Time) Policy {
	return Policy{
		Version: "v1",
		Rules: Rules{
			PIIDetection:      true,
			KeywordHardBlock:  true,
			KeywordSoftBlock:  true,
			PromptInjection:   true,
			LLMSafetyHead:     false,
			MinorsProtection:  true,
			ViolenceDetection: true,
			SelfHarmDetection: true,
		},
		RiskThresholds: RiskThresholds{
			AllowUpper: 0.4, WarnUpper: 0.55, HumanReviewUpper: 0.7, DenyUpper: 0.85,
		},
		AutoStop: AutoStop{
			Enabled: true, MaxRiskScore: 0.95, MaxConsecutiveRejects: 5, MaxRequestsPerMinute: 600,
		},
		LogRetention: LogRetention{
			RetentionDays: 90, AuditLevel: AuditStandard, RedactBeforeLog: true, MaxLogSize: 64 * 1024 * 1024,
		},
		SignalWeights: map[string]float64{
			"pii": 0.35, "keyword_soft": 0.15, "prompt_injection": 0.25,
			"llm_safety_head": 0.15, "minors": 1.0, "violence": 0.3,
			"self_harm": 0.4, "illicit": 0.3,
		},
		UpdatedAt: now.UTC().Format(time.RFC3339),
		UpdatedBy: "system",
	}
}

var validate = validator.New()

// Validate enforces spec.md §3's FujiPolicy invariants: monotonically
// non-decreasing thresholds in [0,1], a closed audit_level enum, and an
// updated_at that parses as ISO-8601 with offset.
func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("fuji: policy struct validation: %w", err)
	}
	t := p.RiskThresholds
	if !(t.AllowUpper <= t.WarnUpper && t.WarnUpper <= t.HumanReviewUpper && t.HumanReviewUpper <= t.DenyUpper) {
		return fmt.Errorf("fuji: risk_thresholds must be monotonically non-decreasing (allow=%v warn=%v human_review=%v deny=%v)",
			t.AllowUpper, t.WarnUpper, t.HumanReviewUpper, t.DenyUpper)
	}
	if !validAuditLevels[p.LogRetention.AuditLevel] {
		return fmt.Errorf("fuji: invalid audit_level %q", p.LogRetention.AuditLevel)
	}
	if _, err := time.Parse(time.RFC3339, p.UpdatedAt); err != nil {
		return fmt.Errorf("fuji: updated_at must be ISO-8601 with offset: %w", err)
	}
	for name := range p.SignalWeights {
		if !containsString(KnownSignals, name) {
			return fmt.Errorf("fuji: unknown signal_weights key %q", name)
		}
	}
	return nil
}

// NormalizedWeight returns p's weight for signal, defaulting to 0 if the
// signal is absent from SignalWeights, and normalizing so all configured
// weights sum to 1 (uniform if the configured sum is 0).
func (p Policy) NormalizedWeight(signal string) float64 {
	sum := 0.0
	for _, s := range KnownSignals {
		sum += p.SignalWeights[s]
	}
	if sum <= 0 {
		return 1.0 / float64(len(KnownSignals))
	}
	return p.SignalWeights[signal] / sum
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Classify buckets a scalar risk in [0,1] into a DecisionStatus using
// RiskThresholds, per spec.md §4.2.
func (p Policy) Classify(risk float64) (status DecisionStatus, warned bool) {
	t := p.RiskThresholds
	switch {
	case risk <= t.AllowUpper:
		return StatusAllow, false
	case risk <= t.WarnUpper:
		return StatusAllow, true
	case risk <= t.HumanReviewUpper:
		return StatusHumanReview, false
	case risk <= t.DenyUpper:
		return StatusModify, false
	default:
		return StatusRejected, false
	}
}
