// prompt_analysis.go - Prompt builders for /ask and /analyze

package ai

import (
	"fmt"
	"strings"

	"github.com/bosocmputer/crop_assistant_gemini/internal/processor"
	"github.com/bosocmputer/crop_assistant_gemini/internal/storage"
)

// BuildAskPrompt joins the language instruction with the user's question
func BuildAskPrompt(registry *TemplateRegistry, language, question string) string {
	return fmt.Sprintf("%s\n\nUser Question: %s", registry.Lookup(language), question)
}

// BuildAnalysisPrompt builds the five-point crop image analysis prompt
func BuildAnalysisPrompt(registry *TemplateRegistry, language string) string {
	languageName := registry.DisplayName(language)

	return fmt.Sprintf(`%s

Analyze the attached crop image and report:

1. **Crop Identification**: Name the crop and its growth stage if visible.
2. **Disease/Pest Identification**: Name any disease, pest or nutrient deficiency you can see, with the visible symptoms that support it. If the plant looks healthy, say so.
3. **Severity Assessment**: Rate the problem as Low, Medium or High and explain why in one sentence.
4. **Immediate Treatment**: Give the steps the farmer should take now, including product types, doses and timing where appropriate.
5. **Prevention**: Give practices that prevent the problem in the next season.

Respond in %s. Keep the answer short, practical and easy for a farmer to follow.`, registry.Lookup(language), languageName)
}

// groundingInstructions tells the model which attached documents it may cite
// and how to shape its JSON reply
func groundingInstructions(docs []storage.IndexedFile) string {
	var b strings.Builder
	b.WriteString("Answer the question below. ")

	titles := attachedTitles(docs)
	if len(titles) == 0 {
		b.WriteString("No reference documents are attached, so answer from your own agricultural knowledge and return an empty \"sources\" list.\n")
	} else {
		b.WriteString("Reference documents are attached. Use them whenever they are relevant and list the exact titles of the documents you relied on in \"sources\". Only use titles from this list:\n")
		for _, title := range titles {
			b.WriteString("- ")
			b.WriteString(title)
			b.WriteString("\n")
		}
	}
	b.WriteString("Put the full answer for the farmer in \"answer\".\n\n")
	return b.String()
}

func attachedTitles(docs []storage.IndexedFile) []string {
	docs = attachableDocs(docs)
	titles := make([]string, 0, len(docs))
	for _, doc := range docs {
		titles = append(titles, doc.Title)
	}
	return titles
}

// attachableDocs keeps the docs with a File API URI in a type Gemini accepts
// as a file part. Word files registered before text conversion are skipped.
func attachableDocs(docs []storage.IndexedFile) []storage.IndexedFile {
	out := make([]storage.IndexedFile, 0, len(docs))
	for _, doc := range docs {
		if doc.URI == "" || !processor.SupportsGrounding(doc.MIMEType) {
			continue
		}
		out = append(out, doc)
	}
	return out
}
