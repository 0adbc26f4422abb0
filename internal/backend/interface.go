package backend

import (
	"context"

	"rhledger/internal/attachments"
	"rhledger/internal/store"
	"rhledger/internal/worker"
)

// CleanupFunc releases what a factory created.
type CleanupFunc func() error

// BackendResult contains the store and its cleanup function. Refresher is
// set when other processes can write to the same store.
type BackendResult struct {
	Store     store.Store
	Refresher worker.Refresher
	Cleanup   CleanupFunc
}

// AttachmentResult contains the upload host, nil when uploads are disabled.
type AttachmentResult struct {
	Host    attachments.Host
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
	CreateAttachmentHost(ctx context.Context, config Config) (*AttachmentResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	Attachments    AttachmentType
	GCSBucket      string
	MaxUploadBytes int64
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// AttachmentType selects where receipts are uploaded.
type AttachmentType string

const (
	GCSAttachments    AttachmentType = "gcs"
	MemoryAttachments AttachmentType = "memory"
	NoAttachments     AttachmentType = "none"
)

func (at AttachmentType) IsValid() bool {
	switch at {
	case GCSAttachments, MemoryAttachments, NoAttachments:
		return true
	default:
		return false
	}
}
