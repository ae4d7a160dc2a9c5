package fuji

import (
	"regexp"
)

// compiledPattern pairs a named regex with a human label, in the style of
// tarsy's masking.CompiledPattern groups: each risk signal is a named,
// pre-compiled set rather than an ad-hoc regex scattered inline.
type compiledPattern struct {
	Name  string
	Regex *regexp.Regexp
}

// piiPatterns are PII detectors run when Rules.PIIDetection is set.
var piiPatterns = []compiledPattern{
	{"email", regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)},
	{"phone_us", regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
	{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// hardKeywords hard-block regardless of context (weapons synthesis, CSAM
// solicitation framing, and similar categorical lines), when
// Rules.KeywordHardBlock is set.
var hardKeywords = []compiledPattern{
	{"weapon_synthesis", regexp.MustCompile(`(?i)\b(synthesiz\w*|manufactur\w*)\b.{0,40}\b(nerve agent|chemical weapon|bioweapon|explosive device)\b`)},
	{"csam_solicitation", regexp.MustCompile(`(?i)\bchild (sexual|porn)`)},
	{"auth_bypass_privilege_escalation", regexp.MustCompile(`(?i)\bbypass\w*\b.{0,40}\b(auth|authentication|authorization)\b|\b(gain|obtain|grant|escalat\w*)\b.{0,40}\b(admin|root|superuser)\b.{0,20}\b(privilege|access|rights)\b`)},
}

// softKeywords nudge risk upward but don't alone force a reject, when
// Rules.KeywordSoftBlock is set.
var softKeywords = []compiledPattern{
	{"violence_generic", regexp.MustCompile(`(?i)\b(kill|murder|assault|torture)\b`)},
	{"self_harm_generic", regexp.MustCompile(`(?i)\b(suicide|self[- ]harm|cut myself)\b`)},
	{"illicit_generic", regexp.MustCompile(`(?i)\b(launder money|counterfeit|traffick)\b`)},
	{"minors_generic", regexp.MustCompile(`(?i)\b(minor|underage|child)\b.{0,30}\b(sexual|explicit|nude)\b`)},
}

// injectionPatterns are 5 fixed prompt-injection shapes, per spec.md §4.2
// ("a small fixed set of known injection shapes, not a learned classifier").
var injectionPatterns = []compiledPattern{
	{"ignore_instructions", regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) instructions`)},
	{"reveal_system_prompt", regexp.MustCompile(`(?i)(reveal|print|show|repeat) (your |the )?system prompt`)},
	{"role_override", regexp.MustCompile(`(?i)you are now (DAN|in developer mode|unrestricted|jailbroken)`)},
	{"delimiter_escape", regexp.MustCompile(`(?i)(</?system>|\[/?INST\]|###\s*(end|override))`)},
	{"pretend_no_rules", regexp.MustCompile(`(?i)pretend (you have no|there are no) (rules|restrictions|guidelines)`)},
}

// SignalScores is the per-signal risk contribution in [0,1], before policy
// weighting. Populated fields depend on which Rules are enabled.
type SignalScores struct {
	PII             float64
	KeywordHard     bool // true means an unconditional reject, independent of weighting
	KeywordSoft     float64
	PromptInjection float64
	LLMSafetyHead   float64 // 0 unless a LLMSafetyHeadScorer capability was supplied
	Minors          float64
	Violence        float64
	SelfHarm        float64
	Illicit         float64

	MatchedSignals []string // names of every pattern that fired, for TrustLog evidence
}

// LLMSafetyHeadScorer is the optional capability interface for a
// model-based safety classifier (spec.md §4.7's capability manifest
// pattern: absence degrades gracefully rather than failing the gate).
type LLMSafetyHeadScorer interface {
	Score(text string) (risk float64, err error)
}

// DetectSignals runs every enabled detector over text and returns their
// raw per-signal scores. safetyHead may be nil.
func DetectSignals(text string, rules Rules, safetyHead LLMSafetyHeadScorer) SignalScores {
	var s SignalScores

	if rules.PIIDetection {
		hits := countMatches(text, piiPatterns, &s.MatchedSignals)
		s.PII = saturate(hits, 2)
	}
	if rules.KeywordHardBlock {
		for _, p := range hardKeywords {
			if p.Regex.MatchString(text) {
				s.KeywordHard = true
				s.MatchedSignals = append(s.MatchedSignals, p.Name)
			}
		}
	}
	if rules.KeywordSoftBlock {
		hits := 0
		for _, p := range softKeywords {
			if !p.Regex.MatchString(text) {
				continue
			}
			s.MatchedSignals = append(s.MatchedSignals, p.Name)
			hits++
			switch p.Name {
			case "violence_generic":
				s.Violence = 1
			case "self_harm_generic":
				s.SelfHarm = 1
			case "illicit_generic":
				s.Illicit = 1
			case "minors_generic":
				s.Minors = 1
			}
		}
		s.KeywordSoft = saturate(hits, 3)
	}
	if rules.PromptInjection {
		hits := countMatches(text, injectionPatterns, &s.MatchedSignals)
		s.PromptInjection = saturate(hits, 1)
	}
	if rules.LLMSafetyHead && safetyHead != nil {
		if risk, err := safetyHead.Score(text); err == nil {
			s.LLMSafetyHead = clamp01(risk)
		}
	}
	if !rules.MinorsProtection {
		s.Minors = 0
	}
	if !rules.ViolenceDetection {
		s.Violence = 0
	}
	if !rules.SelfHarmDetection {
		s.SelfHarm = 0
	}
	return s
}

// Risk combines signals into a single scalar using the policy's
// normalized SignalWeights, per spec.md §3's signal_weights field.
// KeywordHard always forces risk to 1 regardless of weighting: hard
// keywords are a categorical, non-negotiable reject.
func (s SignalScores) Risk(p Policy) float64 {
	if s.KeywordHard {
		return 1.0
	}
	risk := 0.0
	risk += p.NormalizedWeight("pii") * s.PII
	risk += p.NormalizedWeight("keyword_soft") * s.KeywordSoft
	risk += p.NormalizedWeight("prompt_injection") * s.PromptInjection
	risk += p.NormalizedWeight("llm_safety_head") * s.LLMSafetyHead
	risk += p.NormalizedWeight("minors") * s.Minors
	risk += p.NormalizedWeight("violence") * s.Violence
	risk += p.NormalizedWeight("self_harm") * s.SelfHarm
	risk += p.NormalizedWeight("illicit") * s.Illicit
	return clamp01(risk)
}

func countMatches(text string, patterns []compiledPattern, matched *[]string) int {
	hits := 0
	for _, p := range patterns {
		if p.Regex.MatchString(text) {
			hits++
			*matched = append(*matched, p.Name)
		}
	}
	return hits
}

// saturate maps a hit count to [0,1], saturating at cap hits.
func saturate(hits, cap int) float64 {
	if cap <= 0 {
		return 0
	}
	v := float64(hits) / float64(cap)
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
