// Package attachments stores receipt files and returns their public URL.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var (
	ErrUploadFailed    = errors.New("attachment upload failed")
	ErrUnsupportedType = errors.New("unsupported attachment type")
	ErrEmptyFile       = errors.New("empty attachment")
)

// Host uploads a file and returns the URL it is served from.
type Host interface {
	Upload(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
}

// CheckContentType accepts images and PDF receipts.
func CheckContentType(contentType string) error {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if strings.HasPrefix(ct, "image/") || ct == "application/pdf" {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
}

// ObjectName builds a collision-free key: uploads/YYYY/MM/DD/<uuid>-<name>.
func ObjectName(filename string, now time.Time) string {
	return path.Join("uploads", now.UTC().Format("2006/01/02"), uuid.NewString()+"-"+sanitize(filename))
}

func sanitize(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "._")
	if name == "" {
		return "receipt"
	}
	return name
}
