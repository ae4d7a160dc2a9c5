package llmclient

import (
	"encoding/json"
	"strings"

	"github.com/veritas-os/veritas/internal/errs"
)

// MaxExtractDepth bounds the recursive descent in ExtractJSONObject, per
// spec.md §4.1's "bounded recursive object scanner (max depth 100)".
const MaxExtractDepth = 100

// ExtractJSONObject finds the first balanced top-level `{...}` substring
// in text and parses it as a JSON object. LLM responses routinely wrap
// structured output in prose or Markdown code fences; this scans byte by
// byte, tracking brace depth and string/escape state, bounded by
// MaxExtractDepth so a pathological or adversarial response cannot drive
// unbounded recursion or allocation.
func ExtractJSONObject(text string) (map[string]any, error) {
	start, end, err := findBalancedObject(text)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end]), &out); err != nil {
		return nil, errs.New(errs.KindInvalidInput, "llmclient: extracted text is not valid JSON", err)
	}
	return out, nil
}

func findBalancedObject(text string) (start, end int, err error) {
	start = strings.IndexByte(text, '{')
	if start < 0 {
		return 0, 0, errs.New(errs.KindInvalidInput, "llmclient: no JSON object found in response", nil)
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
			if depth > MaxExtractDepth {
				return 0, 0, errs.New(errs.KindInvalidInput, "llmclient: JSON object exceeds max nesting depth", nil)
			}
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1, nil
			}
			if depth < 0 {
				return 0, 0, errs.New(errs.KindInvalidInput, "llmclient: unbalanced JSON object in response", nil)
			}
		}
	}

	return 0, 0, errs.New(errs.KindInvalidInput, "llmclient: truncated JSON object in response", nil)
}
