// handlers.go - HTTP handlers for health, document upload, questions and crop image analysis

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bosocmputer/crop_assistant_gemini/internal/ai"
	"github.com/bosocmputer/crop_assistant_gemini/internal/common"
	"github.com/bosocmputer/crop_assistant_gemini/internal/processor"
	"github.com/bosocmputer/crop_assistant_gemini/internal/storage"
	"github.com/gin-gonic/gin"
)

// MaxQuestionLength is the longest accepted /ask question, in characters
const MaxQuestionLength = 5000

// DocumentStore is the part of storage.Manager the handlers use
type DocumentStore interface {
	Current() *storage.Handle
	EnsureStore(ctx context.Context) (*storage.Handle, error)
	Upload(ctx context.Context, handle *storage.Handle, path string) storage.UploadResult
	Files(ctx context.Context, handle *storage.Handle) ([]storage.IndexedFile, error)
	Unavailable() bool
}

// Handler carries the dependencies of every route
type Handler struct {
	Store     DocumentStore
	Generator ai.Generator
	Templates *ai.TemplateRegistry

	UploadDir         string
	MaxBodyBytes      int64
	PreprocessImages  bool
	MaxImageDimension int

	// KeyConfigured reports whether the provider API key is set right now
	KeyConfigured func() bool
}

// NewHandler creates a handler with the default request size limit
func NewHandler(store DocumentStore, generator ai.Generator, uploadDir string) *Handler {
	return &Handler{
		Store:         store,
		Generator:     generator,
		Templates:     ai.Templates,
		UploadDir:     uploadDir,
		MaxBodyBytes:  processor.MaxRequestBytes,
		KeyConfigured: func() bool { return true },
	}
}

// AskRequest is the JSON body of POST /ask
type AskRequest struct {
	Question string `json:"question"`
	Language string `json:"language"`
}

// Index renders the landing page
func (h *Handler) Index(c *gin.Context) {
	languages := make([]gin.H, 0)
	for _, code := range h.Templates.Codes() {
		languages = append(languages, gin.H{"Code": code, "Name": h.Templates.DisplayName(code)})
	}
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Languages":         languages,
		"DocumentTypes":     strings.Join(processor.DocumentExtensions, ", "),
		"ImageTypes":        strings.Join(processor.ImageExtensions, ", "),
		"MaxQuestionLength": MaxQuestionLength,
	})
}

// Health reports whether the service can reach Gemini and whether the
// document index exists yet ("unavailable" after a failed attempt to create
// it). It never creates the index.
func (h *Handler) Health(c *gin.Context) {
	if h.KeyConfigured != nil && !h.KeyConfigured() {
		log.Printf("❌ Health check failed: GEMINI_API_KEY is not configured")
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "unhealthy",
			"error":  "GEMINI_API_KEY is not configured",
		})
		return
	}

	fileStore := "not_initialized"
	if h.Store != nil {
		if h.Store.Current() != nil {
			fileStore = "ready"
		} else if h.Store.Unavailable() {
			fileStore = "unavailable"
		}
	}

	model, provider := "", ""
	if h.Generator != nil {
		model = h.Generator.ModelName()
		provider = h.Generator.GetProviderName()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"gemini_api": "configured",
		"file_store": fileStore,
		"provider":   provider,
		"model":      model,
	})
}

// Upload stages every file under "files" and pushes it into the document
// index. The call fails only when no file made it.
func (h *Handler) Upload(c *gin.Context) {
	reqCtx := common.NewRequestContext("/upload")
	ctx := c.Request.Context()

	reqCtx.StartStep("validate_input")
	files, missing, err := formFiles(c, "files")
	if err != nil {
		reqCtx.EndStep("failed", nil, err)
		if isBodyTooLarge(err) {
			abortTooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided"})
		return
	}
	if missing {
		reqCtx.EndStep("failed", nil, errors.New("no files provided"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided"})
		return
	}
	if len(files) == 0 || files[0].Filename == "" {
		reqCtx.EndStep("failed", nil, errors.New("no files selected"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files selected"})
		return
	}
	reqCtx.EndStep("success", nil, nil)
	reqCtx.LogInfo("📥 Received %d file(s)", len(files))

	uploaded := []string{}
	uploadErrors := []string{}

	for _, file := range files {
		name, reason := h.ingest(ctx, c, reqCtx, file)
		if reason != "" {
			uploadErrors = append(uploadErrors, fmt.Sprintf("%s: %s", file.Filename, reason))
			continue
		}
		uploaded = append(uploaded, name)
	}

	reqCtx.GetSummary()

	if len(uploaded) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "No files were uploaded. " + strings.Join(uploadErrors, " "),
			"uploaded": uploaded,
			"errors":   uploadErrors,
		})
		return
	}

	message := fmt.Sprintf("Successfully uploaded %d file(s)", len(uploaded))
	if len(uploadErrors) > 0 {
		message += fmt.Sprintf(". %d file(s) failed: %s", len(uploadErrors), strings.Join(uploadErrors, " "))
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  message,
		"uploaded": uploaded,
		"errors":   uploadErrors,
	})
}

// ingest validates, stages and indexes one file. A non-empty reason is shown
// to the caller, so provider details stay in the log.
func (h *Handler) ingest(ctx context.Context, c *gin.Context, reqCtx *common.RequestContext, file *multipart.FileHeader) (name, reason string) {
	if !processor.IsAllowed(file.Filename, processor.DocumentExtensions) {
		return "", "File type not allowed. Allowed: " + strings.Join(processor.DocumentExtensions, ", ")
	}

	name = processor.StagedFilename(file.Filename)
	if !processor.IsAllowed(name, processor.DocumentExtensions) {
		return "", "Invalid filename"
	}

	reqCtx.StartStep("stage_file")
	path := filepath.Join(h.UploadDir, name)
	if err := c.SaveUploadedFile(file, path); err != nil {
		reqCtx.EndStep("failed", nil, err)
		return "", "Failed to save file"
	}
	reqCtx.EndStep("success", nil, nil)

	reqCtx.StartStep("ensure_store")
	handle, err := h.Store.EnsureStore(ctx)
	if err != nil {
		reqCtx.EndStep("failed", nil, err)
		return "", "Document store is unavailable"
	}
	reqCtx.EndStep("success", nil, nil)

	reqCtx.StartStep("index_file")
	result := h.Store.Upload(ctx, handle, path)
	if !result.Succeeded() {
		reqCtx.EndStep("failed", nil, result.Err)
		return "", "Upload to document store failed"
	}
	reqCtx.EndStep(result.Outcome.String(), nil, nil)

	return name, ""
}

// Ask answers a question grounded on the indexed documents
func (h *Handler) Ask(c *gin.Context) {
	reqCtx := common.NewRequestContext("/ask")
	ctx := c.Request.Context()

	reqCtx.StartStep("validate_input")
	var req AskRequest
	if c.ContentType() != gin.MIMEJSON {
		reqCtx.EndStep("failed", nil, fmt.Errorf("content type %q", c.ContentType()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request must be JSON"})
		return
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		reqCtx.EndStep("failed", nil, err)
		if isBodyTooLarge(err) {
			abortTooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request must be JSON"})
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		reqCtx.EndStep("failed", nil, errors.New("empty question"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Question cannot be empty"})
		return
	}
	if utf8.RuneCountInString(question) > MaxQuestionLength {
		reqCtx.EndStep("failed", nil, errors.New("question too long"))
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Question too long (max %d characters)", MaxQuestionLength)})
		return
	}
	reqCtx.EndStep("success", nil, nil)
	reqCtx.LogInfo("❓ Processing question (%s): %s", req.Language, truncate(question, 100))

	prompt := ai.BuildAskPrompt(h.Templates, req.Language, question)

	reqCtx.StartStep("ensure_store")
	handle, err := h.Store.EnsureStore(ctx)
	if err != nil {
		reqCtx.EndStep("failed", nil, err)
		askFailed(c)
		return
	}
	reqCtx.EndStep("success", nil, nil)

	reqCtx.StartStep("load_documents")
	docs, err := h.Store.Files(ctx, handle)
	if err != nil {
		reqCtx.EndStep("failed", nil, err)
		askFailed(c)
		return
	}
	reqCtx.EndStep("success", nil, nil)

	reqCtx.StartStep("generate_answer")
	resp, err := h.Generator.GenerateGrounded(ctx, prompt, docs, reqCtx)
	if err != nil {
		reqCtx.EndStep("failed", nil, err)
		askFailed(c)
		return
	}
	reqCtx.EndStep("success", resp.Usage, nil)

	reqCtx.StartStep("extract_sources")
	sources := ai.ExtractSources(resp.Grounding)
	reqCtx.EndStep("success", nil, nil)
	reqCtx.LogInfo("Question processed successfully with %d sources", len(sources))

	reqCtx.GetSummary()
	c.JSON(http.StatusOK, gin.H{
		"response": ai.AnswerText(resp.Text),
		"sources":  sources,
	})
}

func askFailed(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process question"})
}

// Analyze sends one crop image to Gemini for diagnosis
func (h *Handler) Analyze(c *gin.Context) {
	reqCtx := common.NewRequestContext("/analyze")
	ctx := c.Request.Context()

	reqCtx.StartStep("validate_input")
	files, missing, err := formFiles(c, "file")
	if err != nil {
		reqCtx.EndStep("failed", nil, err)
		if isBodyTooLarge(err) {
			abortTooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image provided"})
		return
	}
	if missing {
		reqCtx.EndStep("failed", nil, errors.New("no image provided"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image provided"})
		return
	}
	if len(files) == 0 || files[0].Filename == "" {
		reqCtx.EndStep("failed", nil, errors.New("no image selected"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image selected"})
		return
	}
	file := files[0]
	if !processor.IsAllowed(file.Filename, processor.ImageExtensions) {
		reqCtx.EndStep("failed", nil, fmt.Errorf("disallowed image %s", file.Filename))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only JPG, JPEG, and PNG images are allowed"})
		return
	}
	reqCtx.EndStep("success", nil, nil)

	language := c.PostForm("language")

	reqCtx.StartStep("prepare_image")
	data, mimeType, err := h.readImage(file, reqCtx)
	if err != nil {
		reqCtx.EndStep("failed", nil, err)
		analyzeFailed(c)
		return
	}
	reqCtx.EndStep("success", nil, nil)

	reqCtx.StartStep("analyze_image")
	prompt := ai.BuildAnalysisPrompt(h.Templates, language)
	resp, err := h.Generator.AnalyzeImage(ctx, prompt, data, mimeType, reqCtx)
	if err != nil {
		reqCtx.EndStep("failed", nil, err)
		analyzeFailed(c)
		return
	}
	reqCtx.EndStep("success", resp.Usage, nil)

	reqCtx.GetSummary()
	c.JSON(http.StatusOK, gin.H{"response": resp.Text})
}

func analyzeFailed(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze image. Please try again."})
}

// readImage loads the uploaded image and, when enabled, normalizes it.
// Images that cannot be decoded are sent as uploaded.
func (h *Handler) readImage(file *multipart.FileHeader, reqCtx *common.RequestContext) ([]byte, string, error) {
	f, err := file.Open()
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	mimeType := processor.MIMETypeFor(file.Filename)

	if !h.PreprocessImages {
		return data, mimeType, nil
	}

	prepared, err := processor.PrepareImage(data, file.Filename, h.MaxImageDimension)
	if err != nil {
		reqCtx.LogWarning("Image preprocessing skipped: %v", err)
		return data, mimeType, nil
	}
	reqCtx.LogInfo("🔧 Image prepared: %dx%d, quality %.0f, resized: %v",
		prepared.Width, prepared.Height, prepared.QualityScore, prepared.Resized)
	return prepared.Data, prepared.MIMEType, nil
}

// formFiles returns the files sent under key. missing is true when the key is
// absent; a file input left empty arrives as a plain value and yields no files.
func formFiles(c *gin.Context, key string) (files []*multipart.FileHeader, missing bool, err error) {
	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return nil, true, nil
		}
		return nil, false, err
	}

	files = form.File[key]
	if len(files) > 0 {
		return files, false, nil
	}
	if _, ok := form.Value[key]; ok {
		return nil, false, nil
	}
	return nil, true, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
