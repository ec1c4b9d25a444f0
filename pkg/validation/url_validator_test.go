package validation

import (
	"testing"

	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
)

func assertValidationMessage(t *testing.T, err error, message string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %q error, got nil", message)
	}
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		t.Fatalf("Expected AppError, got: %T", err)
	}
	if appErr.Message != message {
		t.Errorf("Expected %q error, got: %s", message, appErr.Message)
	}
}

func TestURLValidator_ValidURLs(t *testing.T) {
	validator := NewURLValidator()

	validURLs := []string{
		"http://localhost:9000/v1_1/demo/image/upload",
		"https://api.cloudinary.com",
		"https://res.cloudinary.com/demo/image/upload/v1/gaydar-uploads/x.jpg",
	}

	for _, u := range validURLs {
		if err := validator.Validate(u); err != nil {
			t.Errorf("Expected valid URL %s to pass validation, got error: %v", u, err)
		}
	}
}

func TestURLValidator_EmptyURL(t *testing.T) {
	validator := NewURLValidator()
	for _, u := range []string{"", "   ", "\t\n"} {
		assertValidationMessage(t, validator.Validate(u), "URL cannot be empty")
	}
}

func TestURLValidator_NoHost(t *testing.T) {
	validator := NewURLValidator()
	for _, u := range []string{"http://", "https://", "http:///path"} {
		assertValidationMessage(t, validator.Validate(u), "URL must have a valid host")
	}
}

func TestURLValidator_InvalidScheme(t *testing.T) {
	validator := NewURLValidator()
	invalid := []string{
		"ftp://example.com/image.jpg",
		"file://local/path/image.jpg",
		"data:image/png;base64,iVBORw0KGgo=",
	}
	for _, u := range invalid {
		assertValidationMessage(t, validator.Validate(u), "URL scheme not allowed")
	}
}

func TestSecureURLValidator(t *testing.T) {
	validator := NewSecureURLValidator("cloudinary.com")

	if err := validator.Validate("https://res.cloudinary.com/demo/image/upload/a.png"); err != nil {
		t.Errorf("Expected subdomain of allowed host to pass, got %v", err)
	}
	if err := validator.Validate("https://cloudinary.com/a.png"); err != nil {
		t.Errorf("Expected allowed host to pass, got %v", err)
	}

	assertValidationMessage(t, validator.Validate("http://res.cloudinary.com/a.png"), "URL scheme not allowed")
	assertValidationMessage(t, validator.Validate("https://evilcloudinary.com/a.png"), "URL host not allowed")
	assertValidationMessage(t, validator.Validate("https://cloudinary.com.evil.io/a.png"), "URL host not allowed")
}

func TestSecureURLValidator_AnyHost(t *testing.T) {
	validator := NewSecureURLValidator()
	if err := validator.Validate("https://account.blob.core.windows.net/c/b.png"); err != nil {
		t.Errorf("Expected any https host to pass, got %v", err)
	}
}
