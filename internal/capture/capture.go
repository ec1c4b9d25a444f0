package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
	"github.com/anime-shed/photo-flow-go/pkg/models"
	"github.com/anime-shed/photo-flow-go/pkg/validation"
)

var (
	// ErrMalformedDataURI is returned when a string is not a well-formed data URI
	ErrMalformedDataURI = errors.New("malformed data URI")

	// ErrEmptyFrame is returned by devices that had nothing to capture
	ErrEmptyFrame = errors.New("empty frame")
)

// Source produces the raw material for a working image. Both adapters hand the
// same representation to the flow controller.
type Source interface {
	// ValidationInput describes the source to the image validator without decoding it.
	ValidationInput() validation.Input
	// Decode produces the working image.
	Decode() (models.WorkingImage, error)
}

// FileUpload is a file picked by the user.
type FileUpload struct {
	Name         string
	DeclaredType string
	Data         []byte
}

// NewFileUpload resolves the content type, sniffing the bytes when the client sent none.
func NewFileUpload(name, declaredType string, data []byte) FileUpload {
	return FileUpload{
		Name:         name,
		DeclaredType: ResolveContentType(declaredType, data),
		Data:         data,
	}
}

func (f FileUpload) ValidationInput() validation.Input {
	return validation.FileInput{
		Name:     f.Name,
		MIMEType: f.DeclaredType,
		Size:     int64(len(f.Data)),
	}
}

// Decode encodes the bytes as a data URI, like a browser FileReader would.
func (f FileUpload) Decode() (models.WorkingImage, error) {
	uri := "data:" + f.DeclaredType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
	width, height := dimensions(f.Data)
	return models.WorkingImage{
		DataURI:  uri,
		MIMEType: f.DeclaredType,
		Size:     int64(len(f.Data)),
		Width:    width,
		Height:   height,
		Source:   models.SourceUpload,
	}, nil
}

// ErrFileTooLarge is returned by ReadFileUpload when the stream exceeds its limit
var ErrFileTooLarge = errors.New("file exceeds read limit")

// ReadFileUpload reads at most limit bytes from r. One extra byte is read so an
// oversized stream is reported instead of silently truncated.
func ReadFileUpload(name, declaredType string, r io.Reader, limit int64) (FileUpload, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return FileUpload{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if int64(len(data)) > limit {
		return FileUpload{}, ErrFileTooLarge
	}
	return NewFileUpload(name, declaredType, data), nil
}

// DataURIUpload is an already encoded image string posted by the client.
type DataURIUpload string

func (d DataURIUpload) ValidationInput() validation.Input {
	return validation.DataURIInput(d)
}

func (d DataURIUpload) Decode() (models.WorkingImage, error) {
	return FromDataURI(string(d), models.SourceUpload)
}

// ResolveContentType keeps a declared type unless it is empty or generic.
func ResolveContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(data) == 0 {
		return declared
	}
	detected, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return strings.TrimSpace(detected)
}

// FromDataURI parses a data URI into a working image.
func FromDataURI(uri string, source models.ImageSource) (models.WorkingImage, error) {
	raw, mediaType, err := DecodeDataURI(uri)
	if err != nil {
		return models.WorkingImage{}, apperrors.NewValidationError("Invalid image format. Please upload a valid image file.", err)
	}

	width, height := dimensions(raw)
	return models.WorkingImage{
		DataURI:  uri,
		MIMEType: mediaType,
		Size:     int64(len(raw)),
		Width:    width,
		Height:   height,
		Source:   source,
	}, nil
}

// DecodeDataURI returns the payload bytes and media type of a data URI.
func DecodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", ErrMalformedDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrMalformedDataURI
	}

	params := strings.Split(meta, ";")
	mediaType := strings.TrimSpace(params[0])
	if mediaType == "" {
		mediaType = "text/plain"
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	if !isBase64 {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrMalformedDataURI, err)
		}
		return []byte(unescaped), mediaType, nil
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// some encoders drop the padding
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrMalformedDataURI, err)
		}
	}
	return raw, mediaType, nil
}

// dimensions is best effort: SVG and undecodable payloads report 0x0.
func dimensions(raw []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
