package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/google/uuid"

	"github.com/anime-shed/photo-flow-go/internal/capture"
	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
	"github.com/anime-shed/photo-flow-go/pkg/models"
)

// blobClient is the subset of *azblob.Client used for uploads
type blobClient interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	URL() string
}

// AzureConfig holds shared-key credentials for blob storage
type AzureConfig struct {
	AccountName string
	AccountKey  string
	Container   string
	Folder      string
}

// Configured reports whether the credentials and container are present
func (c AzureConfig) Configured() bool {
	return c.AccountName != "" && c.AccountKey != "" && c.Container != ""
}

type azureUploader struct {
	client    blobClient
	container string
	folder    string
	now       func() time.Time
	newName   func() string
}

// NewAzureUploader writes images as block blobs under {container}/{folder}/
func NewAzureUploader(cfg AzureConfig) (Uploader, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return newAzureUploader(client, cfg.Container, cfg.Folder), nil
}

func newAzureUploader(client blobClient, container, folder string) *azureUploader {
	if folder == "" {
		folder = DefaultUploadFolder
	}
	return &azureUploader{
		client:    client,
		container: container,
		folder:    folder,
		now:       time.Now,
		newName:   func() string { return uuid.NewString() },
	}
}

func (s *azureUploader) Name() string {
	return "azure"
}

func (s *azureUploader) Upload(ctx context.Context, img models.WorkingImage) (*models.RemoteImageRef, error) {
	raw, mediaType, err := capture.DecodeDataURI(img.DataURI)
	if err != nil {
		return nil, apperrors.NewValidationError("Invalid image format. Please upload a valid image file.", err)
	}

	format := extensionFor(mediaType)
	blobName := path.Join(s.folder, s.newName()+"."+format)

	resp, err := s.client.UploadBuffer(ctx, s.container, blobName, raw, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &mediaType},
	})
	if err != nil {
		return nil, apperrors.NewUploadError("blob upload failed", err)
	}

	createdAt := s.now().UTC()
	if resp.LastModified != nil {
		createdAt = *resp.LastModified
	}

	return &models.RemoteImageRef{
		URL:       s.blobURL(blobName),
		PublicID:  strings.TrimSuffix(blobName, "."+format),
		Format:    format,
		Width:     img.Width,
		Height:    img.Height,
		Bytes:     int64(len(raw)),
		CreatedAt: createdAt,
		Provider:  s.Name(),
	}, nil
}

func (s *azureUploader) blobURL(blobName string) string {
	escaped := make([]string, 0, 4)
	for _, segment := range strings.Split(blobName, "/") {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return strings.TrimRight(s.client.URL(), "/") + "/" + url.PathEscape(s.container) + "/" + strings.Join(escaped, "/")
}
