package storage

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockBackend struct {
	mu        sync.Mutex
	creates   atomic.Int32
	createErr error
	addErr    error
	listCalls int
	files     map[string][]IndexedFile
}

func newMockBackend() *mockBackend {
	return &mockBackend{files: make(map[string][]IndexedFile)}
}

func (b *mockBackend) CreateIndex(_ context.Context, displayName string) (*Handle, error) {
	n := b.creates.Add(1)
	if b.createErr != nil {
		return nil, b.createErr
	}
	return &Handle{Name: fmt.Sprintf("documentIndexes/%d", n), DisplayName: displayName}, nil
}

func (b *mockBackend) AddFile(_ context.Context, handle *Handle, file IndexedFile) error {
	if b.addErr != nil {
		return b.addErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[handle.Name] = append(b.files[handle.Name], file)
	return nil
}

func (b *mockBackend) ListFiles(_ context.Context, handle *Handle) ([]IndexedFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	return append([]IndexedFile(nil), b.files[handle.Name]...), nil
}

type mockFileService struct {
	uploadErr error
	getErr    error
	initial   *RemoteFile
	states    []RemoteState
	gets      int

	uploadedPath string
	uploadedMIME string
}

func (f *mockFileService) UploadFile(_ context.Context, path, displayName, mimeType string) (*RemoteFile, error) {
	f.uploadedPath = path
	f.uploadedMIME = mimeType
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if f.initial == nil {
		return nil, nil
	}
	file := *f.initial
	file.DisplayName = displayName
	file.MIMEType = mimeType
	return &file, nil
}

func (f *mockFileService) GetFile(_ context.Context, name string) (*RemoteFile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	state := StateActive
	if f.gets < len(f.states) {
		state = f.states[f.gets]
	}
	f.gets++
	return &RemoteFile{Name: name, URI: "https://files.example/" + name, State: state}, nil
}

func newTestManager(backend IndexBackend, files FileService) *Manager {
	m := NewManager(backend, files)
	m.PollInterval = time.Millisecond
	m.GracePeriod = time.Millisecond
	return m
}

// --- EnsureStore ---

func TestEnsureStoreIsIdempotent(t *testing.T) {
	backend := newMockBackend()
	m := newTestManager(backend, &mockFileService{})

	assert.Nil(t, m.Current())

	first, err := m.EnsureStore(context.Background())
	require.NoError(t, err)
	second, err := m.EnsureStore(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first, m.Current())
	assert.Equal(t, int32(1), backend.creates.Load())
}

func TestEnsureStoreFailureIsRetried(t *testing.T) {
	backend := newMockBackend()
	backend.createErr = errors.New("connection refused")
	m := newTestManager(backend, &mockFileService{})

	_, err := m.EnsureStore(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Nil(t, m.Current())

	backend.createErr = nil
	handle, err := m.EnsureStore(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, handle)
	assert.Equal(t, int32(2), backend.creates.Load())
}

func TestEnsureStoreConcurrentCallersShareHandle(t *testing.T) {
	backend := newMockBackend()
	m := newTestManager(backend, &mockFileService{})

	const callers = 16
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := m.EnsureStore(context.Background())
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, m.Current(), h)
	}
	assert.GreaterOrEqual(t, backend.creates.Load(), int32(1))
}

func TestUnavailableAfterFailedCreate(t *testing.T) {
	backend := newMockBackend()
	m := newTestManager(backend, &mockFileService{})
	assert.False(t, m.Unavailable())

	backend.createErr = errors.New("server selection timeout")
	_, err := m.EnsureStore(context.Background())
	require.Error(t, err)
	assert.True(t, m.Unavailable())

	backend.createErr = nil
	_, err = m.EnsureStore(context.Background())
	require.NoError(t, err)
	assert.False(t, m.Unavailable())
}

// --- Upload ---

func TestUploadConfirmedAfterPolling(t *testing.T) {
	backend := newMockBackend()
	files := &mockFileService{
		initial: &RemoteFile{Name: "files/abc", State: StateProcessing},
		states:  []RemoteState{StateProcessing, StateActive},
	}
	m := newTestManager(backend, files)
	handle, err := m.EnsureStore(context.Background())
	require.NoError(t, err)

	// Prime the cache so the upload has to invalidate it
	listed, err := m.Files(context.Background(), handle)
	require.NoError(t, err)
	assert.Empty(t, listed)

	result := m.Upload(context.Background(), handle, "uploads/sugarcane.txt")
	require.NoError(t, result.Err)
	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 2, result.Polls)
	require.NotNil(t, result.File)
	assert.Equal(t, "sugarcane.txt", result.File.Title)
	assert.Equal(t, "files/abc", result.File.RemoteName)
	assert.Equal(t, "https://files.example/files/abc", result.File.URI)

	listed, err = m.Files(context.Background(), handle)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "confirmed", listed[0].Outcome)
	assert.Equal(t, 2, backend.listCalls)
}

func TestUploadAlreadyActiveSkipsPolling(t *testing.T) {
	files := &mockFileService{initial: &RemoteFile{Name: "files/x", URI: "u", State: StateActive}}
	m := newTestManager(newMockBackend(), files)
	handle, _ := m.EnsureStore(context.Background())

	result := m.Upload(context.Background(), handle, "uploads/a.pdf")
	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	assert.Equal(t, 0, result.Polls)
	assert.Equal(t, 0, files.gets)
	assert.Equal(t, "application/pdf", result.File.MIMEType)
}

func TestUploadUnknownStateIsAssumed(t *testing.T) {
	files := &mockFileService{initial: &RemoteFile{Name: "files/y", State: StateUnknown}}
	m := newTestManager(newMockBackend(), files)
	handle, _ := m.EnsureStore(context.Background())

	result := m.Upload(context.Background(), handle, "uploads/b.txt")
	assert.Equal(t, OutcomeAssumed, result.Outcome)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "assumed", result.File.Outcome)
}

func TestUploadMissingReplyIsAssumed(t *testing.T) {
	m := newTestManager(newMockBackend(), &mockFileService{})
	handle, _ := m.EnsureStore(context.Background())

	result := m.Upload(context.Background(), handle, "uploads/c.txt")
	assert.Equal(t, OutcomeAssumed, result.Outcome)
	assert.Empty(t, result.File.RemoteName)
}

func TestUploadConvertsWordDocumentsToText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "field_notes.docx")

	out, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(out)
	doc, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = doc.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>Earth up the rows after 90 days</w:t></w:r></w:p></w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())

	files := &mockFileService{initial: &RemoteFile{Name: "files/notes", URI: "u", State: StateActive}}
	m := newTestManager(newMockBackend(), files)
	handle, _ := m.EnsureStore(context.Background())

	result := m.Upload(context.Background(), handle, path)
	require.NoError(t, result.Err)
	assert.Equal(t, "text/plain", files.uploadedMIME)
	assert.Equal(t, path+".txt", files.uploadedPath)
	assert.Equal(t, "field_notes.docx", result.File.Title)
	assert.Equal(t, "text/plain", result.File.MIMEType)

	text, err := os.ReadFile(files.uploadedPath)
	require.NoError(t, err)
	assert.Equal(t, "Earth up the rows after 90 days", string(text))
}

func TestUploadRejectsUnreadableWordDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.docx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip archive"), 0644))

	files := &mockFileService{initial: &RemoteFile{Name: "files/b", State: StateActive}}
	m := newTestManager(newMockBackend(), files)
	handle, _ := m.EnsureStore(context.Background())

	result := m.Upload(context.Background(), handle, path)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Error(t, result.Err)
	assert.Empty(t, files.uploadedPath)
}

func TestUploadFailures(t *testing.T) {
	processing := &RemoteFile{Name: "files/z", State: StateProcessing}

	cases := []struct {
		name    string
		files   *mockFileService
		addErr  error
		nilHand bool
	}{
		{name: "upload error", files: &mockFileService{uploadErr: errors.New("quota")}},
		{name: "poll error", files: &mockFileService{initial: processing, getErr: errors.New("503")}},
		{name: "remote failed", files: &mockFileService{initial: processing, states: []RemoteState{StateFailed}}},
		{name: "backend error", files: &mockFileService{initial: &RemoteFile{Name: "f", State: StateActive}}, addErr: errors.New("mongo down")},
		{name: "no handle", files: &mockFileService{}, nilHand: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := newMockBackend()
			backend.addErr = tc.addErr
			m := newTestManager(backend, tc.files)

			var handle *Handle
			if !tc.nilHand {
				handle, _ = m.EnsureStore(context.Background())
			}

			result := m.Upload(context.Background(), handle, "uploads/d.txt")
			assert.Equal(t, OutcomeFailed, result.Outcome)
			assert.False(t, result.Succeeded())
			assert.Error(t, result.Err)
			assert.Nil(t, result.File)
		})
	}
}

func TestUploadStopsPollingWhenContextEnds(t *testing.T) {
	files := &mockFileService{
		initial: &RemoteFile{Name: "files/slow", State: StateProcessing},
		states:  []RemoteState{StateProcessing, StateProcessing, StateProcessing, StateProcessing},
	}
	m := newTestManager(newMockBackend(), files)
	m.PollInterval = time.Hour
	handle, _ := m.EnsureStore(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	result := m.Upload(ctx, handle, "uploads/e.txt")
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
}

func TestFilesWithoutHandle(t *testing.T) {
	m := newTestManager(newMockBackend(), &mockFileService{})
	_, err := m.Files(context.Background(), nil)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestFilesSkipsExpiredUploads(t *testing.T) {
	backend := newMockBackend()
	m := newTestManager(backend, &mockFileService{})
	handle, err := m.EnsureStore(context.Background())
	require.NoError(t, err)

	now := time.Now().UTC()
	backend.files[handle.Name] = []IndexedFile{
		{Title: "old.pdf", UploadedAt: now.Add(-72 * time.Hour)},
		{Title: "fresh.pdf", UploadedAt: now.Add(-time.Hour)},
	}

	files, err := m.Files(context.Background(), handle)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "fresh.pdf", files[0].Title)

	m.Retention = 0
	m.cache.Invalidate(handle.Name)
	files, err = m.Files(context.Background(), handle)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
