package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anime-shed/photo-flow-go/internal/capture"
	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
	"github.com/anime-shed/photo-flow-go/internal/flow"
	"github.com/anime-shed/photo-flow-go/internal/repository"
	"github.com/anime-shed/photo-flow-go/internal/storage"
	"github.com/anime-shed/photo-flow-go/internal/strategy"
	"github.com/anime-shed/photo-flow-go/internal/view"
	"github.com/anime-shed/photo-flow-go/pkg/models"
)

const pngDataURI = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func newTestService(t *testing.T, maxSessions int) (FlowService, *repository.InMemorySessionRepository) {
	t.Helper()
	repo := repository.NewInMemorySessionRepository(maxSessions)
	t.Cleanup(repo.Close)

	svc := NewFlowService(repo, FlowSettings{
		LoadingDuration:      20 * time.Millisecond,
		ConfirmationDuration: 10 * time.Millisecond,
		UploadTimeout:        time.Second,
		SessionTTL:           time.Minute,
		Uploader:             storage.NewDisabledUploader("not configured in tests"),
		Generator:            strategy.NewFixedResultGenerator(88),
	})
	return svc, repo
}

func TestFlowService_HappyPath(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	session, v, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StageHome, v.Stage)
	assert.Equal(t, []view.Intent{view.IntentUploadPhoto, view.IntentUseCamera}, v.Intents)

	outcome, v, err := svc.UploadPhoto(ctx, session.ID, capture.DataURIUpload(pngDataURI))
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	require.NotNil(t, v.Preview)
	assert.Equal(t, pngDataURI, v.Preview.ImageSrc)

	v, err = svc.ConfirmPreview(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageLoading, v.Stage)
	require.NotNil(t, v.Loading)

	require.Eventually(t, func() bool {
		v, err := svc.GetView(ctx, session.ID)
		return err == nil && v.Stage == models.StageResult
	}, 2*time.Second, 5*time.Millisecond)

	v, err = svc.GetView(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, v.Result)
	assert.Equal(t, 88, v.Result.Percentage)
	assert.Equal(t, pngDataURI, v.Result.ImageSrc)
	assert.Equal(t, "Sheeeesh confirmed badiiingg! 🌈", v.Result.Message)

	v, err = svc.TryAgain(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageHome, v.Stage)
	assert.Equal(t, uint64(2), v.SessionToken)
}

func TestFlowService_RefusedIntentsStillRender(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	session, _, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	v, err := svc.ConfirmPreview(ctx, session.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, flow.ErrNoPreview))
	assert.Equal(t, models.StageHome, v.Stage)

	outcome, _, err := svc.UploadPhoto(ctx, session.ID, capture.NewFileUpload("doc.pdf", "application/pdf", []byte("%PDF-1.4")))
	require.Error(t, err)
	assert.False(t, outcome.Accepted)
	assert.Contains(t, outcome.Reason, "Unsupported file type: application/pdf")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestFlowService_CameraIntents(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	session, _, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	v, err := svc.UseCamera(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, v.Camera)
	assert.True(t, v.Camera.CaptureEnabled)

	v, err = svc.CameraError(ctx, session.ID, "NotAllowedError")
	require.NoError(t, err)
	require.NotNil(t, v.Camera)
	assert.False(t, v.Camera.CaptureEnabled)

	_, err = svc.CaptureFrame(ctx, session.ID, pngDataURI)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeCapture))

	v, err = svc.CloseCamera(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, v.Camera)

	_, err = svc.UseCamera(ctx, session.ID)
	require.NoError(t, err)
	v, err = svc.CaptureFrame(ctx, session.ID, pngDataURI)
	require.NoError(t, err)
	require.NotNil(t, v.Preview)
	assert.Equal(t, models.SourceCamera, v.Preview.Source)

	v, err = svc.Retake(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, v.Preview)
	assert.Nil(t, v.Camera)
	assert.Equal(t, models.StageHome, v.Stage)

	_, _, err = svc.UploadPhoto(ctx, session.ID, capture.DataURIUpload(pngDataURI))
	require.NoError(t, err)
	v, err = svc.CancelPreview(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, v.Preview)
	assert.Nil(t, v.Camera)
}

func TestFlowService_UnknownSession(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.GetView(ctx, "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	assert.True(t, errors.Is(err, repository.ErrSessionNotFound))

	_, err = svc.TryAgain(ctx, "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	err = svc.EndSession(ctx, "missing")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestFlowService_SessionLimit(t *testing.T) {
	svc, _ := newTestService(t, 1)
	ctx := context.Background()

	_, _, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	_, _, err = svc.CreateSession(ctx)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeCapacity))
}

func TestFlowService_EndSession(t *testing.T) {
	svc, repo := newTestService(t, 0)
	ctx := context.Background()

	session, _, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.EndSession(ctx, session.ID))
	assert.Equal(t, 0, repo.Count())
}

func TestFlowService_SweepIdle(t *testing.T) {
	svc, repo := newTestService(t, 0)
	ctx := context.Background()

	_, _, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, svc.SweepIdle(ctx))

	svc.(*flowService).now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, 1, svc.SweepIdle(ctx))
	assert.Equal(t, 0, repo.Count())
}

func TestFlowService_Watch(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, _, err := svc.CreateSession(ctx)
	require.NoError(t, err)

	views, err := svc.Watch(ctx, session.ID)
	require.NoError(t, err)

	first := <-views
	assert.Equal(t, models.StageHome, first.Stage)

	_, err = svc.UseCamera(ctx, session.ID)
	require.NoError(t, err)

	select {
	case v := <-views:
		require.NotNil(t, v.Camera)
	case <-time.After(time.Second):
		t.Fatal("Expected a view after opening the camera")
	}

	require.NoError(t, svc.EndSession(ctx, session.ID))
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-views:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestFlowService_MaxUploadSize(t *testing.T) {
	svc, _ := newTestService(t, 0)
	assert.Equal(t, int64(10*1024*1024), svc.MaxUploadSize())
}
