package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
	"github.com/anime-shed/photo-flow-go/pkg/models"
)

type fakeBlobClient struct {
	container string
	blobName  string
	data      []byte
	mediaType string
	err       error
	modified  *time.Time
}

func (f *fakeBlobClient) UploadBuffer(_ context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error) {
	f.container = containerName
	f.blobName = blobName
	f.data = buffer
	if o != nil && o.HTTPHeaders != nil && o.HTTPHeaders.BlobContentType != nil {
		f.mediaType = *o.HTTPHeaders.BlobContentType
	}
	if f.err != nil {
		return azblob.UploadBufferResponse{}, f.err
	}
	return azblob.UploadBufferResponse{LastModified: f.modified}, nil
}

func (f *fakeBlobClient) URL() string {
	return "https://acct.blob.core.windows.net/"
}

func TestAzureUploader_Upload(t *testing.T) {
	modified := time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)
	client := &fakeBlobClient{modified: &modified}
	u := newAzureUploader(client, "images", "")
	u.newName = func() string { return "fixed-id" }

	img := models.WorkingImage{DataURI: "data:image/png;base64,QUJD", MIMEType: "image/png", Width: 3, Height: 1}
	ref, err := u.Upload(context.Background(), img)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if client.container != "images" || client.blobName != "gaydar-uploads/fixed-id.png" {
		t.Errorf("Unexpected target %s/%s", client.container, client.blobName)
	}
	if string(client.data) != "ABC" || client.mediaType != "image/png" {
		t.Errorf("Unexpected payload %q (%s)", client.data, client.mediaType)
	}
	if ref.URL != "https://acct.blob.core.windows.net/images/gaydar-uploads/fixed-id.png" {
		t.Errorf("Unexpected URL %s", ref.URL)
	}
	if ref.PublicID != "gaydar-uploads/fixed-id" || ref.Format != "png" || ref.Bytes != 3 || ref.Width != 3 {
		t.Errorf("Unexpected ref %+v", ref)
	}
	if !ref.CreatedAt.Equal(modified) || ref.Provider != "azure" {
		t.Errorf("Unexpected metadata %+v", ref)
	}
}

func TestAzureUploader_Failures(t *testing.T) {
	client := &fakeBlobClient{err: errors.New("403 AuthorizationFailure")}
	u := newAzureUploader(client, "images", "custom")

	_, err := u.Upload(context.Background(), models.WorkingImage{DataURI: "data:image/jpeg;base64,QUJD"})
	if !apperrors.IsType(err, apperrors.ErrorTypeUpload) {
		t.Errorf("Expected upload error, got %v", err)
	}

	_, err = u.Upload(context.Background(), models.WorkingImage{DataURI: "not a data uri"})
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestNewAzureUploader_NotConfigured(t *testing.T) {
	if _, err := NewAzureUploader(AzureConfig{AccountName: "acct"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"image/jpeg":    "jpg",
		"image/jpg":     "jpg",
		"image/svg+xml": "svg",
		"image/tiff":    "tiff",
		"text/plain":    "bin",
	}
	for mimeType, want := range cases {
		if got := extensionFor(mimeType); got != want {
			t.Errorf("extensionFor(%s): expected %s, got %s", mimeType, want, got)
		}
	}
}
