package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
	"github.com/anime-shed/photo-flow-go/internal/logger"
	"github.com/anime-shed/photo-flow-go/pkg/models"
)

const (
	DefaultUploadAttempts = 3
	DefaultRetryDelay     = 500 * time.Millisecond
)

// RetryingUploader repeats transient upload failures until the attempts run
// out or the caller's context expires.
type RetryingUploader struct {
	next     Uploader
	attempts uint
	delay    time.Duration
}

// NewRetryingUploader wraps next. Attempts below one mean a single try.
func NewRetryingUploader(next Uploader, attempts uint, delay time.Duration) *RetryingUploader {
	if attempts == 0 {
		attempts = 1
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &RetryingUploader{next: next, attempts: attempts, delay: delay}
}

func (r *RetryingUploader) Name() string {
	return r.next.Name()
}

func (r *RetryingUploader) Upload(ctx context.Context, img models.WorkingImage) (*models.RemoteImageRef, error) {
	var lastErr error

	ref, err := retry.DoWithData(
		func() (*models.RemoteImageRef, error) {
			ref, err := r.next.Upload(ctx, img)
			if err != nil {
				lastErr = err
			}
			return ref, err
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(Retryable),
		retry.OnRetry(func(n uint, err error) {
			logger.WithError(err).WithFields(logrus.Fields{
				"provider": r.next.Name(),
				"attempt":  n + 1,
			}).Debug("Retrying upload")
		}),
	)
	if err == nil {
		return ref, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, apperrors.NewTimeoutError("upload timed out", ctxErr)
	}
	return nil, err
}

// Retryable reports whether a failed upload may succeed on another attempt.
// Transport failures, 429 and 5xx responses qualify; rejected input,
// missing configuration and other 4xx responses do not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrNotConfigured) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= http.StatusInternalServerError
	}
	return apperrors.IsType(err, apperrors.ErrorTypeNetwork)
}
