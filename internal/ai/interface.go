// interface.go - Generation provider interface used by the HTTP handlers

package ai

import (
	"context"

	"github.com/bosocmputer/crop_assistant_gemini/internal/common"
	"github.com/bosocmputer/crop_assistant_gemini/internal/storage"
)

// GroundedResponse is a generated answer plus the grounding metadata it came with
type GroundedResponse struct {
	// Text is the answer text; empty when the model returned nothing usable
	Text string

	// Grounding is loosely shaped provider metadata, read by ExtractSources.
	// It may be nil.
	Grounding any

	Usage *common.TokenUsage
}

// AnalysisResponse is the generated text for an image analysis request
type AnalysisResponse struct {
	Text  string
	Usage *common.TokenUsage
}

// Generator defines what the handlers need from a generation provider
type Generator interface {
	// GenerateGrounded answers prompt using docs as reference material
	GenerateGrounded(ctx context.Context, prompt string, docs []storage.IndexedFile, reqCtx *common.RequestContext) (*GroundedResponse, error)

	// AnalyzeImage sends prompt and one image in a single request, with no document grounding
	AnalyzeImage(ctx context.Context, prompt string, image []byte, mimeType string, reqCtx *common.RequestContext) (*AnalysisResponse, error)

	// GetProviderName returns the name of the provider (e.g., "gemini")
	GetProviderName() string

	// ModelName returns the model used for generation
	ModelName() string
}

// ProviderConfig contains configuration for a generation provider
type ProviderConfig struct {
	Provider          string
	APIKey            string
	Model             string
	RequestsPerMinute int
}
