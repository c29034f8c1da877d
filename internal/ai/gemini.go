// gemini.go - Gemini provider: grounded answers, image analysis and the File API

package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/bosocmputer/crop_assistant_gemini/internal/common"
	"github.com/bosocmputer/crop_assistant_gemini/internal/ratelimit"
	"github.com/bosocmputer/crop_assistant_gemini/internal/storage"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const maxOutputTokens = 8192

// GeminiProvider implements Generator and storage.FileService on one Gemini client
type GeminiProvider struct {
	client    *genai.Client
	modelName string
	limiter   *ratelimit.RateLimiter
	retry     RetryConfig
}

// NewGeminiProvider creates a Gemini client for modelName.
// The client is shared by all requests and must be closed with Close.
func NewGeminiProvider(ctx context.Context, apiKey, modelName string, limiter *ratelimit.RateLimiter) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is not configured")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	log.Printf("✅ Gemini client ready (model: %s)", modelName)
	return &GeminiProvider{
		client:    client,
		modelName: modelName,
		limiter:   limiter,
		retry:     DefaultRetryConfig,
	}, nil
}

// Close releases the underlying client
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func (p *GeminiProvider) GetProviderName() string {
	return "gemini"
}

func (p *GeminiProvider) ModelName() string {
	return p.modelName
}

func (p *GeminiProvider) newModel() *genai.GenerativeModel {
	model := p.client.GenerativeModel(p.modelName)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: ptr(int32(maxOutputTokens)),
	}
	return model
}

// GenerateGrounded attaches every indexed document Gemini can read as a file
// part and asks for a JSON reply naming the documents it used
func (p *GeminiProvider) GenerateGrounded(ctx context.Context, prompt string, docs []storage.IndexedFile, reqCtx *common.RequestContext) (*GroundedResponse, error) {
	model := p.newModel()
	model.SetTemperature(0.3)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = createGroundedReplySchema()

	docs = attachableDocs(docs)
	reqCtx.LogInfo("📚 Grounding on %d document(s) with %s", len(docs), p.modelName)
	parts := groundedParts(docs, prompt)

	resp, err := callGeminiWithRetry(ctx, p.limiter, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return model.GenerateContent(ctx, parts...)
	}, reqCtx, p.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	raw := responseText(resp)
	reqCtx.LogInfo("📦 Received reply: %d chars", len(raw))

	text, grounding := parseGroundedReply(raw, docs, citationURIs(resp))
	return &GroundedResponse{
		Text:      text,
		Grounding: grounding,
		Usage:     tokenUsage(resp),
	}, nil
}

// groundedParts lists a file part per attachable doc, then the instructions
// and prompt as the final text part
func groundedParts(docs []storage.IndexedFile, prompt string) []genai.Part {
	docs = attachableDocs(docs)
	parts := make([]genai.Part, 0, len(docs)+1)
	for _, doc := range docs {
		parts = append(parts, genai.FileData{MIMEType: doc.MIMEType, URI: doc.URI})
	}
	return append(parts, genai.Text(groundingInstructions(docs)+prompt))
}

// AnalyzeImage sends prompt and the image together in one request
func (p *GeminiProvider) AnalyzeImage(ctx context.Context, prompt string, image []byte, mimeType string, reqCtx *common.RequestContext) (*AnalysisResponse, error) {
	model := p.newModel()
	model.SetTemperature(0.4)

	reqCtx.LogInfo("🖼️  Image size: %d bytes (%s)", len(image), mimeType)

	resp, err := callGeminiWithRetry(ctx, p.limiter, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return model.GenerateContent(ctx,
			genai.Text(prompt),
			genai.Blob{
				MIMEType: mimeType,
				Data:     image,
			},
		)
	}, reqCtx, p.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze image: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, errors.New("empty response from Gemini API")
	}

	return &AnalysisResponse{
		Text:  text,
		Usage: tokenUsage(resp),
	}, nil
}

// UploadFile pushes a staged file to the Gemini File API
func (p *GeminiProvider) UploadFile(ctx context.Context, path, displayName, mimeType string) (*storage.RemoteFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open staged file: %w", err)
	}
	defer f.Close()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait aborted: %w", err)
	}

	file, err := p.client.UploadFile(ctx, "", f, &genai.UploadFileOptions{
		DisplayName: displayName,
		MIMEType:    mimeType,
	})
	if err != nil {
		return nil, categorizeGeminiError(err)
	}
	return toRemoteFile(file), nil
}

// GetFile reads the current state of an uploaded file
func (p *GeminiProvider) GetFile(ctx context.Context, name string) (*storage.RemoteFile, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait aborted: %w", err)
	}
	file, err := p.client.GetFile(ctx, name)
	if err != nil {
		return nil, categorizeGeminiError(err)
	}
	return toRemoteFile(file), nil
}

func toRemoteFile(file *genai.File) *storage.RemoteFile {
	if file == nil {
		return nil
	}
	return &storage.RemoteFile{
		Name:        file.Name,
		DisplayName: file.DisplayName,
		URI:         file.URI,
		MIMEType:    file.MIMEType,
		State:       remoteState(file.State),
	}
}

func remoteState(state genai.FileState) storage.RemoteState {
	switch state {
	case genai.FileStateProcessing:
		return storage.StateProcessing
	case genai.FileStateActive:
		return storage.StateActive
	case genai.FileStateFailed:
		return storage.StateFailed
	default:
		return storage.StateUnknown
	}
}

func ptr[T any](v T) *T {
	return &v
}
