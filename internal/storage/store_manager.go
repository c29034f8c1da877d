// store_manager.go - Lazily created document index and file ingestion into it

package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bosocmputer/crop_assistant_gemini/internal/processor"
)

const (
	// DefaultPollInterval is the wait between upload state checks
	DefaultPollInterval = 2 * time.Second

	// DefaultGracePeriod is waited when the upload state cannot be read
	DefaultGracePeriod = 3 * time.Second

	// DefaultRetention is how long a registered file is offered for grounding.
	// Gemini deletes uploaded files after 48 hours.
	DefaultRetention = 47 * time.Hour

	defaultIndexDisplayName = "crop-assistant-documents"
)

// ErrStoreUnavailable is returned when the document index cannot be created
var ErrStoreUnavailable = errors.New("document index unavailable")

// UploadOutcome tells how an upload into the document index ended
type UploadOutcome int

const (
	// OutcomeFailed: the provider or the index backend reported an error
	OutcomeFailed UploadOutcome = iota
	// OutcomeConfirmed: the provider reported the file as active
	OutcomeConfirmed
	// OutcomeAssumed: the provider state was unreadable, success assumed after GracePeriod
	OutcomeAssumed
)

func (o UploadOutcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeAssumed:
		return "assumed"
	default:
		return "failed"
	}
}

// UploadResult is the outcome of Manager.Upload
type UploadResult struct {
	Outcome UploadOutcome
	File    *IndexedFile
	Polls   int
	Err     error
}

// Succeeded reports whether the file should be treated as indexed
func (r UploadResult) Succeeded() bool {
	return r.Outcome == OutcomeConfirmed || r.Outcome == OutcomeAssumed
}

// Manager owns the process-wide document index handle
type Manager struct {
	backend      IndexBackend
	files        FileService
	cache        *FileListCache
	handle       atomic.Pointer[Handle]
	createFailed atomic.Bool

	DisplayName  string
	PollInterval time.Duration
	GracePeriod  time.Duration
	Retention    time.Duration
}

// NewManager creates a manager; the index itself is created on first use
func NewManager(backend IndexBackend, files FileService) *Manager {
	return &Manager{
		backend:      backend,
		files:        files,
		cache:        NewFileListCache(CACHE_TTL),
		DisplayName:  defaultIndexDisplayName,
		PollInterval: DefaultPollInterval,
		GracePeriod:  DefaultGracePeriod,
		Retention:    DefaultRetention,
	}
}

// Current returns the handle if one has been created, without creating it
func (m *Manager) Current() *Handle {
	return m.handle.Load()
}

// Unavailable reports whether there is no handle yet and the last attempt to
// create one failed
func (m *Manager) Unavailable() bool {
	return m.handle.Load() == nil && m.createFailed.Load()
}

// EnsureStore returns the document index handle, creating it on first use.
// Concurrent first calls may each create an index; the first one stored wins
// and every later call returns it. Errors wrap ErrStoreUnavailable and the
// next call tries again.
func (m *Manager) EnsureStore(ctx context.Context) (*Handle, error) {
	if h := m.handle.Load(); h != nil {
		return h, nil
	}

	created, err := m.backend.CreateIndex(ctx, m.DisplayName)
	if err != nil {
		m.createFailed.Store(true)
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if created == nil {
		m.createFailed.Store(true)
		return nil, fmt.Errorf("%w: backend returned no handle", ErrStoreUnavailable)
	}
	m.createFailed.Store(false)

	if m.handle.CompareAndSwap(nil, created) {
		log.Printf("✅ Using document index: %s", created.Name)
		return created, nil
	}

	winner := m.handle.Load()
	log.Printf("⚠️  Document index %s created concurrently, keeping %s", created.Name, winner.Name)
	return winner, nil
}

// Files lists the documents registered in handle that the provider still holds
func (m *Manager) Files(ctx context.Context, handle *Handle) ([]IndexedFile, error) {
	if handle == nil {
		return nil, ErrStoreUnavailable
	}
	files, err := m.cache.GetOrLoad(handle.Name, func() ([]IndexedFile, error) {
		return m.backend.ListFiles(ctx, handle)
	})
	if err != nil {
		return nil, err
	}
	if m.Retention <= 0 {
		return files, nil
	}

	cutoff := time.Now().Add(-m.Retention)
	live := make([]IndexedFile, 0, len(files))
	for _, file := range files {
		if file.UploadedAt.After(cutoff) {
			live = append(live, file)
		}
	}
	return live, nil
}

// Upload pushes the staged file at path to the provider, waits for it to
// finish processing and registers it in handle. It never returns an error:
// failures are logged and reported through the result so a batch can go on.
func (m *Manager) Upload(ctx context.Context, handle *Handle, path string) UploadResult {
	if handle == nil {
		return m.failed(path, 0, ErrStoreUnavailable)
	}

	title := filepath.Base(path)
	staged, err := processor.PrepareDocument(path)
	if err != nil {
		return m.failed(path, 0, fmt.Errorf("failed to prepare document: %w", err))
	}
	if staged.Converted {
		log.Printf("📝 Converted %s to plain text", title)
	}
	mimeType := staged.MIMEType
	log.Printf("📤 Uploading %s to %s", path, handle.Name)

	remote, err := m.files.UploadFile(ctx, staged.Path, title, mimeType)
	if err != nil {
		return m.failed(path, 0, fmt.Errorf("upload failed: %w", err))
	}

	polls := 0
	for remote != nil && remote.State == StateProcessing {
		if err := sleepContext(ctx, m.PollInterval); err != nil {
			return m.failed(path, polls, err)
		}
		polls++
		remote, err = m.files.GetFile(ctx, remote.Name)
		if err != nil {
			return m.failed(path, polls, fmt.Errorf("failed to check upload state: %w", err))
		}
	}

	outcome := OutcomeConfirmed
	switch {
	case remote == nil || remote.State == StateUnknown:
		log.Printf("⚠️  Could not track upload completion for %s, assuming success", path)
		if err := sleepContext(ctx, m.GracePeriod); err != nil {
			return m.failed(path, polls, err)
		}
		outcome = OutcomeAssumed
	case remote.State == StateFailed:
		return m.failed(path, polls, fmt.Errorf("provider reported processing failure for %s", remote.Name))
	}

	file := IndexedFile{
		IndexName:  handle.Name,
		Title:      title,
		MIMEType:   mimeType,
		Outcome:    outcome.String(),
		UploadedAt: time.Now().UTC(),
	}
	if remote != nil {
		file.RemoteName = remote.Name
		file.URI = remote.URI
		if remote.MIMEType != "" {
			file.MIMEType = remote.MIMEType
		}
	}

	if err := m.backend.AddFile(ctx, handle, file); err != nil {
		return m.failed(path, polls, err)
	}
	m.cache.Invalidate(handle.Name)

	log.Printf("✅ Successfully uploaded file: %s (%s, %d polls)", path, outcome, polls)
	return UploadResult{Outcome: outcome, File: &file, Polls: polls}
}

func (m *Manager) failed(path string, polls int, err error) UploadResult {
	log.Printf("❌ Error uploading file %s: %v", path, err)
	return UploadResult{Outcome: OutcomeFailed, Polls: polls, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
