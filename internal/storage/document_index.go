// document_index.go - Types shared by the document index backend and the provider file service

package storage

import (
	"context"
	"time"
)

// Handle identifies the process-wide document index that uploaded files are
// registered in and that /ask answers are grounded against
type Handle struct {
	Name        string    `bson:"_id" json:"name"`
	DisplayName string    `bson:"display_name" json:"display_name"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// IndexedFile is one document registered in a document index
type IndexedFile struct {
	IndexName  string    `bson:"index_name" json:"index_name"`
	Title      string    `bson:"title" json:"title"`
	RemoteName string    `bson:"remote_name" json:"remote_name"`
	URI        string    `bson:"uri" json:"uri"`
	MIMEType   string    `bson:"mime_type" json:"mime_type"`
	Outcome    string    `bson:"outcome" json:"outcome"`
	UploadedAt time.Time `bson:"uploaded_at" json:"uploaded_at"`
}

// RemoteState is the processing state reported by the provider for an uploaded file
type RemoteState int

const (
	// StateUnknown means the provider reply did not carry a recognizable state
	StateUnknown RemoteState = iota
	StateProcessing
	StateActive
	StateFailed
)

func (s RemoteState) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RemoteFile is a file held by the provider's file service
type RemoteFile struct {
	Name        string
	DisplayName string
	URI         string
	MIMEType    string
	State       RemoteState
}

// IndexBackend persists document index records and their registered files
type IndexBackend interface {
	CreateIndex(ctx context.Context, displayName string) (*Handle, error)
	AddFile(ctx context.Context, handle *Handle, file IndexedFile) error
	ListFiles(ctx context.Context, handle *Handle) ([]IndexedFile, error)
}

// FileService uploads staged files to the generation provider
type FileService interface {
	UploadFile(ctx context.Context, path, displayName, mimeType string) (*RemoteFile, error)
	GetFile(ctx context.Context, name string) (*RemoteFile, error)
}
