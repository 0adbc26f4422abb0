package backend

import (
	"context"
	"fmt"

	"rhledger/internal/attachments"
	"rhledger/internal/log"
	"rhledger/internal/storage"
	"rhledger/internal/store/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case MemoryBackend:
		return f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return &BackendResult{
		Store:     repo,
		Refresher: repo,
		Cleanup:   repo.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*BackendResult, error) {
	st := memory.New()
	f.logger.Info("Initialized memory backend")
	return &BackendResult{
		Store:   st,
		Cleanup: st.Close,
	}, nil
}

// CreateAttachmentHost builds the receipt host. With uploads disabled the
// result has a nil Host.
func (f *DefaultFactory) CreateAttachmentHost(ctx context.Context, config Config) (*AttachmentResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Attachments {
	case GCSAttachments:
		host, err := attachments.NewGCSHost(ctx, config.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GCS attachment host: %w", err)
		}
		f.logger.Info("Initialized GCS attachment host", "bucket", config.GCSBucket)
		return &AttachmentResult{Host: host, Cleanup: host.Close}, nil
	case MemoryAttachments:
		f.logger.Info("Initialized in-memory attachment host")
		return &AttachmentResult{Host: attachments.NewMemoryHost(config.MaxUploadBytes)}, nil
	default:
		f.logger.Info("Attachment uploads disabled")
		return &AttachmentResult{}, nil
	}
}
