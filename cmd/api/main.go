// main.go - The entry point and server setup.

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bosocmputer/crop_assistant_gemini/configs"
	"github.com/bosocmputer/crop_assistant_gemini/internal/ai"
	"github.com/bosocmputer/crop_assistant_gemini/internal/api"
	"github.com/bosocmputer/crop_assistant_gemini/internal/storage"
	"github.com/gin-gonic/gin"
)

func main() {
	// Step 0: Load configuration from environment variables
	configs.LoadConfig()

	if ginMode := os.Getenv("GIN_MODE"); ginMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Step 1: Create the UPLOAD_DIR folder if it doesn't exist
	if err := os.MkdirAll(configs.UPLOAD_DIR, 0755); err != nil {
		log.Fatalf("Failed to create upload directory: %v", err)
	}

	// Step 2: MongoDB holds the document index records
	if err := storage.InitMongoDB(); err != nil {
		log.Fatalf("Failed to initialize MongoDB client: %v", err)
	}
	defer storage.CloseMongoDB()

	// Step 3: Gemini provider, shared by generation and the File API
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	provider, err := ai.CreateProvider(startupCtx, ai.ConfigFromEnv())
	if err != nil {
		log.Fatalf("Failed to create Gemini provider: %v", err)
	}
	defer provider.Close()

	manager := storage.NewManager(storage.NewMongoIndexBackend(storage.GetMongoDB()), provider)

	// The index is created lazily, so a failure here is retried on first use
	if _, err := manager.EnsureStore(startupCtx); err != nil {
		log.Printf("⚠️  Document index not ready yet: %v", err)
	}
	cancelStartup()

	// Step 4: Routes
	handler := api.NewHandler(manager, provider, configs.UPLOAD_DIR)
	handler.PreprocessImages = configs.ENABLE_IMAGE_PREPROCESSING
	handler.MaxImageDimension = configs.MAX_IMAGE_DIMENSION
	handler.KeyConfigured = configs.APIKeyConfigured

	router := api.NewRouter(handler, configs.ALLOWED_ORIGINS)

	// Step 5: Setup HTTP server. No read timeout: uploads may be up to 50MB.
	srv := &http.Server{
		Addr:              ":" + configs.PORT,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Printf("Starting server on :%s (model: %s)", configs.PORT, provider.ModelName())
		log.Println("API Endpoints:")
		log.Println("  GET  /")
		log.Println("  GET  /health")
		log.Println("  POST /upload")
		log.Println("  POST /ask")
		log.Println("  POST /analyze")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
