// sources.go - Best-effort source titles from grounding metadata

package ai

import "strings"

// NoAnswerPlaceholder is returned to the caller when the model produced no text
const NoAnswerPlaceholder = "No answer generated"

// AnswerText returns text, or NoAnswerPlaceholder when text is blank
func AnswerText(text string) string {
	if strings.TrimSpace(text) == "" {
		return NoAnswerPlaceholder
	}
	return text
}

// ExtractSources pulls the distinct titles out of grounding metadata shaped
// like {"grounding_chunks": [{"retrieved_context": {"title": ...}}]}. Any
// missing or mistyped level is skipped; the result is never nil and keeps
// first-seen order.
func ExtractSources(grounding any) []string {
	sources := []string{}

	root, ok := asMap(grounding)
	if !ok {
		return sources
	}

	seen := make(map[string]bool)
	for _, item := range asSlice(root["grounding_chunks"]) {
		chunk, ok := asMap(item)
		if !ok {
			continue
		}
		retrieved, ok := asMap(chunk["retrieved_context"])
		if !ok {
			continue
		}
		title, ok := retrieved["title"].(string)
		if !ok {
			continue
		}
		title = strings.TrimSpace(title)
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true
		sources = append(sources, title)
	}

	return sources
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok && m != nil
}

func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []map[string]any:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	default:
		return nil
	}
}
