package pipeline

import (
	"encoding/json"

	"github.com/veritas-os/veritas/internal/schema"
)

// boundAlternatives truncates the alternative count and each item's
// string fields to the payload bound in spec.md §4.1 ("100 options × 10
// fields × 10,000 chars, total ≤ 1 MB") before handing alternatives to an
// LLM-driven stage.
func boundAlternatives(alts []schema.AltItem) []schema.AltItem {
	if len(alts) > MaxAlternatives {
		alts = alts[:MaxAlternatives]
	}
	bounded := make([]schema.AltItem, len(alts))
	for i, a := range alts {
		bounded[i] = boundAltItem(a)
	}
	return truncateToByteBudget(bounded, MaxTotalPayloadBytes)
}

func boundAltItem(a schema.AltItem) schema.AltItem {
	a.Title = truncateString(a.Title, MaxFieldChars)
	a.Description = truncateString(a.Description, MaxFieldChars)
	if len(a.Metadata) > MaxFieldsPerAlternative {
		kept := make(map[string]any, MaxFieldsPerAlternative)
		n := 0
		for k, v := range a.Metadata {
			if n >= MaxFieldsPerAlternative {
				break
			}
			kept[k] = v
			n++
		}
		a.Metadata = kept
	}
	return a
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// truncateToByteBudget drops trailing alternatives until the JSON-encoded
// payload fits within budget bytes, so a large batch of otherwise
// individually-bounded alternatives still cannot exceed the 1 MB total
// the spec requires.
func truncateToByteBudget(alts []schema.AltItem, budget int) []schema.AltItem {
	for len(alts) > 0 {
		b, err := json.Marshal(alts)
		if err != nil || len(b) <= budget {
			break
		}
		alts = alts[:len(alts)-1]
	}
	return alts
}
