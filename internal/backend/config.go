package backend

import (
	"fmt"

	"rhledger/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	c := Config{
		Type:           BackendType(appConfig.DataBackend),
		SQLiteDBPath:   appConfig.SQLiteDBPath,
		Attachments:    AttachmentType(appConfig.AttachmentBackend),
		GCSBucket:      appConfig.GCSBucket,
		MaxUploadBytes: appConfig.MaxUploadBytes,
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == SQLiteBackend && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite backend")
	}

	attachments := c.Attachments
	if attachments == "" {
		attachments = NoAttachments
	}
	if !attachments.IsValid() {
		return fmt.Errorf("invalid attachment backend: %s", c.Attachments)
	}
	if attachments == GCSAttachments && c.GCSBucket == "" {
		return fmt.Errorf("GCS bucket is required for gcs attachments")
	}
	return nil
}
