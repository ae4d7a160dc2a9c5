package schema

import (
	"reflect"

	"github.com/google/uuid"

	"github.com/veritas-os/veritas/internal/errs"
)

// Normalized is a DecideRequest after coercion: alternatives/options
// reconciled per spec.md §3 invariants 4 and 5, with every substitution
// recorded as a CoercionEvent.
type Normalized struct {
	Request DecideRequest
	Events  []CoercionEvent
}

// knownRequestKeys lists the DecideRequest fields recognized by name in
// a raw JSON object, used to detect "extra" keys that should be
// preserved rather than rejected.
var knownRequestKeys = map[string]bool{
	"request_id": true, "query": true, "context": true, "alternatives": true,
	"options": true, "min_evidence": true, "memory_auto_put": true, "persona_evolve": true,
}

// Coerce reconciles req.Alternatives and req.Options, rejects an
// over-length query with KindInvalidInput, and folds raw's unrecognized top-level keys into
// ExtraKeys. raw is the original decoded JSON object (before struct
// typing), needed to detect keys the DecideRequest struct doesn't model.
func Coerce(req DecideRequest, raw map[string]any) (Normalized, error) {
	var events []CoercionEvent

	if len(req.Query) > MaxQueryChars {
		return Normalized{}, errs.New(errs.KindInvalidInput, "schema: query exceeds max length", nil)
	}

	switch {
	case len(req.Options) > 0 && len(req.Alternatives) == 0:
		// Invariant 4: options-only request promotes options to alternatives.
		req.Alternatives = req.Options
		events = append(events, CoercionEvent{
			Name: "coercion.options_to_alternatives",
			Detail: "alternatives populated from legacy options field",
		})
	case len(req.Options) > 0 && len(req.Alternatives) > 0 && !altsEqual(req.Options, req.Alternatives):
		// Invariant 5: both present and differing; alternatives is canonical,
		// and the response's options field is overridden to match it (see
		// MirrorForResponse below).
		events = append(events, CoercionEvent{
			Name:   "coercion.options_overridden_by_alternatives",
			Detail: "alternatives is canonical; options diverged and was overridden",
		})
	}

	extra := map[string]any{}
	for k, v := range raw {
		if !knownRequestKeys[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		req.ExtraKeys = extra
		events = append(events, CoercionEvent{
			Name:   "coercion.request_extra_keys_allowed",
			Detail: "unrecognized top-level keys preserved verbatim",
		})
	}

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	return Normalized{Request: req, Events: events}, nil
}

// MirrorForResponse implements the response-side half of invariants 4
// and 5: options always mirrors alternatives in the response, and when
// that required overriding the client's own options, a second event is
// emitted naming the response-side effect distinctly from the
// request-side coercion already recorded by Coerce.
func MirrorForResponse(n Normalized) (alternatives, options []AltItem, events []CoercionEvent) {
	alternatives = n.Request.Alternatives
	options = n.Request.Alternatives
	events = n.Events
	for _, e := range n.Events {
		if e.Name == "coercion.options_overridden_by_alternatives" {
			events = append(events, CoercionEvent{
				Name:   "coercion.response_options_overridden_by_alternatives",
				Detail: "response options field set to alternatives, overriding client-supplied options",
			})
			break
		}
	}
	return alternatives, options, events
}

func altsEqual(a, b []AltItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// XCoercedFields extracts the distinct event-name set from events, for
// stamping onto DecideResponse.meta.x_coerced_fields.
func XCoercedFields(events []CoercionEvent) []string {
	seen := make(map[string]bool, len(events))
	var out []string
	for _, e := range events {
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		out = append(out, e.Name)
	}
	return out
}
