package llmclient

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject_FindsObjectInProse(t *testing.T) {
	text := `Here is the plan:\n{"steps": ["a", "b"]}\nLet me know if you need changes.`
	obj, err := ExtractJSONObject(text)
	require.NoError(t, err)
	assert.Contains(t, obj, "steps")
}

func TestExtractJSONObject_HandlesNestedBraces(t *testing.T) {
	obj, err := ExtractJSONObject(`{"a": {"b": {"c": 1}}}`)
	require.NoError(t, err)
	inner := obj["a"].(map[string]any)["b"].(map[string]any)
	assert.Equal(t, float64(1), inner["c"])
}

func TestExtractJSONObject_IgnoresBracesInsideStrings(t *testing.T) {
	obj, err := ExtractJSONObject(`{"note": "use { and } carefully"}`)
	require.NoError(t, err)
	assert.Equal(t, "use { and } carefully", obj["note"])
}

func TestExtractJSONObject_RejectsExcessiveNesting(t *testing.T) {
	var b strings.Builder
	for i := 0; i < MaxExtractDepth+5; i++ {
		b.WriteString(`{"a":`)
	}
	b.WriteString("1")
	for i := 0; i < MaxExtractDepth+5; i++ {
		b.WriteString("}")
	}
	_, err := ExtractJSONObject(b.String())
	require.Error(t, err)
}

func TestExtractJSONObject_RejectsNoObjectPresent(t *testing.T) {
	_, err := ExtractJSONObject("no json here")
	require.Error(t, err)
}

func TestExtractJSONObject_RejectsTruncatedObject(t *testing.T) {
	_, err := ExtractJSONObject(`{"a": 1, "b": `)
	require.Error(t, err)
}
