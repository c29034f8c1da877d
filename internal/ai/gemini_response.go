// gemini_response.go - Reading text, citations and grounded replies out of Gemini responses

package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/bosocmputer/crop_assistant_gemini/internal/common"
	"github.com/bosocmputer/crop_assistant_gemini/internal/storage"
	"github.com/google/generative-ai-go/genai"
)

var jsonStringRe = regexp.MustCompile(`"([^"]*(?:\\.[^"]*)*)"`)

// fixJSONEscaping escapes raw control characters that Gemini sometimes leaves
// inside JSON string values, which encoding/json rejects
func fixJSONEscaping(jsonStr string) string {
	return jsonStringRe.ReplaceAllStringFunc(jsonStr, func(match string) string {
		if len(match) < 2 {
			return match
		}

		content := match[1 : len(match)-1]

		// Order matters: invalid "\ " escapes first, then raw control characters
		content = strings.ReplaceAll(content, "\\ ", "\\\\ ")
		content = strings.ReplaceAll(content, "\n", "\\n")
		content = strings.ReplaceAll(content, "\r", "\\r")
		content = strings.ReplaceAll(content, "\t", "\\t")
		content = strings.ReplaceAll(content, "\f", "\\f")
		content = strings.ReplaceAll(content, "\b", "\\b")

		var builder strings.Builder
		for _, ch := range content {
			if ch < 0x20 {
				builder.WriteString(fmt.Sprintf("\\u%04x", ch))
			} else {
				builder.WriteRune(ch)
			}
		}

		return `"` + builder.String() + `"`
	})
}

// responseText joins the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

// citationURIs collects the citation source URIs of every candidate
func citationURIs(resp *genai.GenerateContentResponse) []string {
	if resp == nil {
		return nil
	}

	var uris []string
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.CitationMetadata == nil {
			continue
		}
		for _, source := range candidate.CitationMetadata.CitationSources {
			if source != nil && source.URI != nil && *source.URI != "" {
				uris = append(uris, *source.URI)
			}
		}
	}
	return uris
}

// tokenUsage converts Gemini usage metadata into priced token usage
func tokenUsage(resp *genai.GenerateContentResponse) *common.TokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	usage := common.CalculateTokenCost(
		int(resp.UsageMetadata.PromptTokenCount),
		int(resp.UsageMetadata.CandidatesTokenCount),
	)
	return &usage
}

// createGroundedReplySchema is the JSON schema requested for /ask answers
func createGroundedReplySchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"answer": {
				Type:        genai.TypeString,
				Description: "The complete answer for the farmer, in the requested language.",
			},
			"sources": {
				Type:        genai.TypeArray,
				Description: "Exact titles of the attached reference documents used for the answer. Empty when none were used.",
				Items:       &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"answer", "sources"},
	}
}

// parseGroundedReply turns the raw model reply into answer text plus grounding
// metadata shaped as {"grounding_chunks": [{"retrieved_context": {"title", "uri"}}]}.
// Only titles of attached documents survive, matched case-insensitively, and
// citation URIs that point at an attached document add that document. A reply
// that is not JSON is used verbatim as the answer with no grounding.
func parseGroundedReply(raw string, docs []storage.IndexedFile, citations []string) (string, any) {
	var reply struct {
		Answer  string `json:"answer"`
		Sources []any  `json:"sources"`
	}

	trimmed := stripCodeFence(raw)
	if err := json.Unmarshal([]byte(trimmed), &reply); err != nil {
		if err := json.Unmarshal([]byte(fixJSONEscaping(trimmed)), &reply); err != nil {
			return raw, nil
		}
	}

	byTitle := make(map[string]storage.IndexedFile, len(docs))
	byURI := make(map[string]storage.IndexedFile, len(docs))
	for _, doc := range docs {
		byTitle[strings.ToLower(doc.Title)] = doc
		if doc.URI != "" {
			byURI[doc.URI] = doc
		}
	}

	chunks := []any{}
	addChunk := func(doc storage.IndexedFile) {
		chunks = append(chunks, map[string]any{
			"retrieved_context": map[string]any{
				"title": doc.Title,
				"uri":   doc.URI,
			},
		})
	}

	for _, source := range reply.Sources {
		title, ok := source.(string)
		if !ok {
			continue
		}
		if doc, ok := byTitle[strings.ToLower(strings.TrimSpace(title))]; ok {
			addChunk(doc)
		}
	}
	for _, uri := range citations {
		if doc, ok := byURI[uri]; ok {
			addChunk(doc)
		}
	}

	return reply.Answer, map[string]any{"grounding_chunks": chunks}
}

// stripCodeFence removes a surrounding ```json ... ``` fence if present
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
