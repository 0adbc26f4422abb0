package attachments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const memoryURLPrefix = "memory://attachments/"

// MemoryHost keeps uploads in process. Used for local runs and tests.
type MemoryHost struct {
	mu      sync.Mutex
	objects map[string]object
	maxSize int64
}

type object struct {
	contentType string
	data        []byte
}

// NewMemoryHost limits each upload to maxSize bytes; zero means no limit.
func NewMemoryHost(maxSize int64) *MemoryHost {
	return &MemoryHost{objects: make(map[string]object), maxSize: maxSize}
}

func (h *MemoryHost) Upload(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	if err := CheckContentType(contentType); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	if h.maxSize > 0 {
		r = io.LimitReader(r, h.maxSize+1)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if buf.Len() == 0 {
		return "", ErrEmptyFile
	}
	if h.maxSize > 0 && int64(buf.Len()) > h.maxSize {
		return "", fmt.Errorf("%w: larger than %d bytes", ErrUploadFailed, h.maxSize)
	}

	name := ObjectName(filename, time.Now())
	h.mu.Lock()
	h.objects[name] = object{contentType: contentType, data: buf.Bytes()}
	h.mu.Unlock()

	return memoryURLPrefix + name, nil
}

// Open returns a stored upload by URL.
func (h *MemoryHost) Open(url string) ([]byte, string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.objects[strings.TrimPrefix(url, memoryURLPrefix)]
	return o.data, o.contentType, ok
}

func (h *MemoryHost) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}
