package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce_OptionsOnlyPromotesToAlternatives(t *testing.T) {
	req := DecideRequest{Query: "q", Options: []AltItem{{ID: "a", Title: "A"}}}
	n, err := Coerce(req, map[string]any{"query": "q", "options": nil})
	require.NoError(t, err)

	assert.Equal(t, req.Options, n.Request.Alternatives)
	assert.True(t, hasEvent(n.Events, "coercion.options_to_alternatives"))
}

func TestCoerce_DifferingOptionsAndAlternativesEmitsOverrideEvent(t *testing.T) {
	req := DecideRequest{
		Query:        "q",
		Alternatives: []AltItem{{ID: "a", Title: "A"}},
		Options:      []AltItem{{ID: "b", Title: "B"}},
	}
	n, err := Coerce(req, map[string]any{})
	require.NoError(t, err)
	assert.True(t, hasEvent(n.Events, "coercion.options_overridden_by_alternatives"))
}

func TestCoerce_IdenticalOptionsAndAlternativesEmitsNoEvent(t *testing.T) {
	item := AltItem{ID: "a", Title: "A"}
	req := DecideRequest{Query: "q", Alternatives: []AltItem{item}, Options: []AltItem{item}}
	n, err := Coerce(req, map[string]any{})
	require.NoError(t, err)
	assert.False(t, hasEvent(n.Events, "coercion.options_overridden_by_alternatives"))
}

func TestCoerce_PreservesUnknownKeys(t *testing.T) {
	raw := map[string]any{"query": "q", "future_field": "value"}
	req := DecideRequest{Query: "q"}
	n, err := Coerce(req, raw)
	require.NoError(t, err)
	assert.Equal(t, "value", n.Request.ExtraKeys["future_field"])
	assert.True(t, hasEvent(n.Events, "coercion.request_extra_keys_allowed"))
}

func TestCoerce_RejectsOverlongQuery(t *testing.T) {
	req := DecideRequest{Query: strings.Repeat("x", MaxQueryChars+1)}
	_, err := Coerce(req, map[string]any{})
	require.Error(t, err)
}

func TestCoerce_AssignsRequestIDWhenAbsent(t *testing.T) {
	n, err := Coerce(DecideRequest{Query: "q"}, map[string]any{})
	require.NoError(t, err)
	assert.NotEmpty(t, n.Request.RequestID)
}

func TestCoerce_PreservesClientSuppliedRequestID(t *testing.T) {
	n, err := Coerce(DecideRequest{Query: "q", RequestID: "client-supplied"}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "client-supplied", n.Request.RequestID)
}

func TestMirrorForResponse_OptionsMirrorsAlternatives(t *testing.T) {
	alt := []AltItem{{ID: "a", Title: "A"}}
	n := Normalized{Request: DecideRequest{Alternatives: alt}}
	alts, opts, _ := MirrorForResponse(n)
	assert.Equal(t, alt, alts)
	assert.Equal(t, alt, opts)
}

func TestMirrorForResponse_EmitsResponseSideEventWhenOverridden(t *testing.T) {
	n := Normalized{Events: []CoercionEvent{{Name: "coercion.options_overridden_by_alternatives"}}}
	_, _, events := MirrorForResponse(n)
	assert.True(t, hasEvent(events, "coercion.response_options_overridden_by_alternatives"))
}

func TestXCoercedFields_DeduplicatesEventNames(t *testing.T) {
	events := []CoercionEvent{{Name: "a"}, {Name: "a"}, {Name: "b"}}
	assert.Equal(t, []string{"a", "b"}, XCoercedFields(events))
}

func hasEvent(events []CoercionEvent, name string) bool {
	for _, e := range events {
		if e.Name == name {
			return true
		}
	}
	return false
}
