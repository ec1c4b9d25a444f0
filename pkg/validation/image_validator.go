package validation

import (
	"fmt"
	"strings"

	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
	"github.com/anime-shed/photo-flow-go/pkg/models"
)

// MaxImageSize is the largest accepted image, raw or estimated from base64.
const MaxImageSize int64 = 10 * 1024 * 1024

// SupportedImageTypes is the closed allow-list of image encodings.
var SupportedImageTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/svg+xml",
	"image/bmp",
	"image/tiff",
}

// Input is either a FileInput or a DataURIInput.
type Input interface {
	isInput()
}

// FileInput describes a binary file handle picked by the user.
type FileInput struct {
	Name     string
	MIMEType string
	Size     int64
}

// DataURIInput is an encoded image string such as "data:image/png;base64,...".
type DataURIInput string

func (FileInput) isInput()    {}
func (DataURIInput) isInput() {}

// ImageValidator classifies inputs as acceptable or rejected
type ImageValidator struct {
	allowedTypes []string
	maxSize      int64
}

// NewImageValidator creates a validator with the default allow-list and size limit
func NewImageValidator() *ImageValidator {
	return &ImageValidator{
		allowedTypes: SupportedImageTypes,
		maxSize:      MaxImageSize,
	}
}

// NewImageValidatorWithLimit creates a validator with a custom size limit
func NewImageValidatorWithLimit(maxSize int64) *ImageValidator {
	if maxSize <= 0 {
		maxSize = MaxImageSize
	}
	return &ImageValidator{
		allowedTypes: SupportedImageTypes,
		maxSize:      maxSize,
	}
}

// MaxSize returns the configured size limit in bytes
func (v *ImageValidator) MaxSize() int64 {
	return v.maxSize
}

// Validate never panics: every failure path resolves to a rejected outcome.
func (v *ImageValidator) Validate(input Input) (outcome models.ValidationOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = models.Reject(fmt.Sprintf("Validation error: %v", r))
		}
	}()

	switch in := input.(type) {
	case FileInput:
		return v.validateFile(in)
	case *FileInput:
		if in == nil {
			break
		}
		return v.validateFile(*in)
	case DataURIInput:
		return v.validateDataURI(string(in))
	}

	return models.Reject("Invalid input type. Expected File or base64 string.")
}

func (v *ImageValidator) validateFile(in FileInput) models.ValidationOutcome {
	if !v.isTypeAllowed(in.MIMEType) {
		return models.Reject(fmt.Sprintf(
			"Unsupported file type: %s. Please upload a valid image file (JPEG, PNG, GIF, WebP, etc.)", in.MIMEType))
	}
	if in.Size > v.maxSize {
		return models.Reject(fmt.Sprintf(
			"File size too large (%.2fMB). Maximum size is %s.", float64(in.Size)/1024/1024, formatLimit(v.maxSize)))
	}
	return models.Accept()
}

func (v *ImageValidator) validateDataURI(uri string) models.ValidationOutcome {
	if !v.hasAllowedPrefix(uri) {
		return models.Reject("Invalid image format. Please upload a valid image file.")
	}

	// decoded size ≈ encoded length × 3/4; compare without rounding
	encodedLength := int64(len(EncodedPayload(uri)))
	if encodedLength*3 > v.maxSize*4 {
		return models.Reject(fmt.Sprintf("Image size too large. Maximum size is %s.", formatLimit(v.maxSize)))
	}
	return models.Accept()
}

// EstimateDecodedSize applies the base64 expansion ratio to a data URI payload
func EstimateDecodedSize(uri string) int64 {
	return int64(len(EncodedPayload(uri))) * 3 / 4
}

// EncodedPayload returns what follows the first comma of a data URI, or "" when there is none.
func EncodedPayload(uri string) string {
	_, payload, found := strings.Cut(uri, ",")
	if !found {
		return ""
	}
	return payload
}

func (v *ImageValidator) isTypeAllowed(mimeType string) bool {
	for _, allowed := range v.allowedTypes {
		if mimeType == allowed {
			return true
		}
	}
	return false
}

func (v *ImageValidator) hasAllowedPrefix(uri string) bool {
	for _, allowed := range v.allowedTypes {
		if strings.HasPrefix(uri, "data:"+allowed) {
			return true
		}
	}
	return false
}

func formatLimit(limit int64) string {
	if limit%(1024*1024) == 0 {
		return fmt.Sprintf("%dMB", limit/(1024*1024))
	}
	return fmt.Sprintf("%d bytes", limit)
}

// AsError converts a rejected outcome into a validation AppError, or nil when accepted.
func AsError(outcome models.ValidationOutcome) error {
	if outcome.Accepted {
		return nil
	}
	return apperrors.NewValidationError(outcome.Reason, nil)
}
