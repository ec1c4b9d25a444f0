package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
	"github.com/anime-shed/photo-flow-go/pkg/models"
)

// ErrNotConfigured is returned when the remote storage credentials are absent.
// It is recoverable: the flow continues with the locally held image.
var ErrNotConfigured = errors.New("remote storage not configured")

// StatusError carries a non-2xx response code from a storage endpoint
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status code %d", e.Code)
}

// Uploader persists an accepted image and returns a durable reference.
type Uploader interface {
	Upload(ctx context.Context, img models.WorkingImage) (*models.RemoteImageRef, error)
	Name() string
}

// DisabledUploader stands in when no backend is configured
type DisabledUploader struct {
	reason string
}

// NewDisabledUploader creates an uploader that always reports ErrNotConfigured
func NewDisabledUploader(reason string) Uploader {
	return &DisabledUploader{reason: reason}
}

func (d *DisabledUploader) Upload(_ context.Context, _ models.WorkingImage) (*models.RemoteImageRef, error) {
	return nil, apperrors.NewUploadError(d.reason, ErrNotConfigured)
}

func (d *DisabledUploader) Name() string {
	return "disabled"
}

// extensionFor maps an allowed MIME type to a file extension
func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/svg+xml":
		return "svg"
	case "image/bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	default:
		return "bin"
	}
}
