package attachments

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSHost stores attachments in a Google Cloud Storage bucket. It relies on
// Application Default Credentials and a bucket that serves objects publicly.
type GCSHost struct {
	client  *storage.Client
	bucket  string
	timeout time.Duration
	now     func() time.Time
}

func NewGCSHost(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSHost, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSHost{client: client, bucket: bucket, timeout: 2 * time.Minute, now: time.Now}, nil
}

func (h *GCSHost) Upload(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	if err := CheckContentType(contentType); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	// Nothing is written to the bucket for an empty file.
	br := bufio.NewReader(r)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return "", ErrEmptyFile
		}
		return "", fmt.Errorf("%w: read upload: %v", ErrUploadFailed, err)
	}

	object := ObjectName(filename, h.now())
	// Cancelling the writer's context before Close aborts the upload
	// instead of finalizing a partial object.
	wctx, abort := context.WithCancel(ctx)
	defer abort()
	w := h.client.Bucket(h.bucket).Object(object).NewWriter(wctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, br); err != nil {
		abort()
		_ = w.Close()
		return "", fmt.Errorf("%w: copy to %s: %v", ErrUploadFailed, object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: finalize %s: %v", ErrUploadFailed, object, err)
	}

	return PublicURL(h.bucket, object), nil
}

// PublicURL is the HTTPS address of a publicly readable object.
func PublicURL(bucket, object string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, object)
}

func (h *GCSHost) Close() error {
	return h.client.Close()
}
