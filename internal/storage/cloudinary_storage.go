package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
	"github.com/anime-shed/photo-flow-go/pkg/models"
	"github.com/anime-shed/photo-flow-go/pkg/validation"
)

const (
	DefaultCloudinaryBaseURL = "https://api.cloudinary.com"
	DefaultUploadFolder      = "gaydar-uploads"
)

// CloudinaryConfig holds the unsigned-upload settings
type CloudinaryConfig struct {
	CloudName    string
	UploadPreset string
	Folder       string
	BaseURL      string
	Timeout      time.Duration
	// Validator re-checks images before sending; nil means the default 10MB limit
	Validator *validation.ImageValidator
}

// Configured reports whether the required identifiers are present
func (c CloudinaryConfig) Configured() bool {
	return strings.TrimSpace(c.CloudName) != "" && strings.TrimSpace(c.UploadPreset) != ""
}

// CloudinaryUploader posts images to the unsigned upload endpoint
type CloudinaryUploader struct {
	cfg          CloudinaryConfig
	client       *http.Client
	validator    *validation.ImageValidator
	urlValidator *validation.URLValidator
	now          func() time.Time
}

type cloudinaryResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int64  `json:"bytes"`
	CreatedAt string `json:"created_at"`
}

type cloudinaryErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewCloudinaryUploader creates an uploader with a transport tuned for single image uploads
func NewCloudinaryUploader(cfg CloudinaryConfig) *CloudinaryUploader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCloudinaryBaseURL
	}
	if cfg.Folder == "" {
		cfg.Folder = DefaultUploadFolder
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	validator := cfg.Validator
	if validator == nil {
		validator = validation.NewImageValidator()
	}

	transport := &http.Transport{
		// A handful of concurrent uploads to one host
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 16 << 10,
	}

	return &CloudinaryUploader{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		validator:    validator,
		urlValidator: validation.NewSecureURLValidator(),
		now:          time.Now,
	}
}

// Name identifies the provider in remote refs and logs
func (u *CloudinaryUploader) Name() string {
	return "cloudinary"
}

// Endpoint is the upload URL for the configured cloud
func (u *CloudinaryUploader) Endpoint() string {
	return fmt.Sprintf("%s/v1_1/%s/image/upload", strings.TrimRight(u.cfg.BaseURL, "/"), u.cfg.CloudName)
}

// Upload makes a single attempt; the caller bounds it with ctx.
func (u *CloudinaryUploader) Upload(ctx context.Context, img models.WorkingImage) (*models.RemoteImageRef, error) {
	if err := validation.AsError(u.validator.Validate(validation.DataURIInput(img.DataURI))); err != nil {
		return nil, err
	}
	if !u.cfg.Configured() {
		return nil, apperrors.NewUploadError("Missing Cloudinary configuration", ErrNotConfigured)
	}

	body, contentType, err := u.buildForm(img)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build upload form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint(), body)
	if err != nil {
		return nil, apperrors.NewUploadError("invalid upload endpoint", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Photo-Flow/1.0")

	resp, err := u.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NewTimeoutError("upload timed out", err)
		}
		return nil, apperrors.NewNetworkError("upload request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to read upload response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewUploadError(remoteErrorMessage(payload), &StatusError{Code: resp.StatusCode})
	}

	var decoded cloudinaryResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, apperrors.NewUploadError("invalid upload response", err)
	}
	if err := u.urlValidator.Validate(decoded.SecureURL); err != nil {
		return nil, apperrors.NewUploadError("upload response carried no usable secure_url", err)
	}

	ref := &models.RemoteImageRef{
		URL:      decoded.SecureURL,
		PublicID: decoded.PublicID,
		Format:   decoded.Format,
		Width:    decoded.Width,
		Height:   decoded.Height,
		Bytes:    decoded.Bytes,
		Provider: u.Name(),
	}
	if createdAt, err := time.Parse(time.RFC3339, decoded.CreatedAt); err == nil {
		ref.CreatedAt = createdAt
	}
	return ref, nil
}

func (u *CloudinaryUploader) buildForm(img models.WorkingImage) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ key, value string }{
		{"file", img.DataURI},
		{"upload_preset", u.cfg.UploadPreset},
		{"folder", u.cfg.Folder},
		{"timestamp", strconv.FormatInt(u.now().UnixMilli(), 10)},
	}
	for _, f := range fields {
		if err := w.WriteField(f.key, f.value); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func remoteErrorMessage(payload []byte) string {
	var decoded cloudinaryErrorResponse
	if err := json.Unmarshal(payload, &decoded); err == nil && decoded.Error.Message != "" {
		return decoded.Error.Message
	}
	return "Upload failed"
}
