package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/anime-shed/photo-flow-go/internal/capture"
	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
	"github.com/anime-shed/photo-flow-go/internal/observer"
	"github.com/anime-shed/photo-flow-go/internal/storage"
	"github.com/anime-shed/photo-flow-go/internal/strategy"
	"github.com/anime-shed/photo-flow-go/pkg/models"
)

const pngDataURI = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeUploader struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	err     error
}

func (f *fakeUploader) Upload(ctx context.Context, img models.WorkingImage) (*models.RemoteImageRef, error) {
	f.mu.Lock()
	f.calls++
	release, err := f.release, f.err
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &models.RemoteImageRef{URL: "https://res.example.com/img.png", Provider: "fake"}, nil
}

func (f *fakeUploader) Name() string { return "fake" }

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type eventRecorder struct {
	mu     sync.Mutex
	events []observer.FlowEvent
}

func (r *eventRecorder) OnEvent(_ context.Context, event observer.FlowEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) GetObserverName() string { return "recorder" }

func (r *eventRecorder) has(eventType observer.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

type rejectingDispatcher struct{}

func (rejectingDispatcher) TrySubmit(func()) bool { return false }

func newTestController(t *testing.T, opts Options) *Controller {
	t.Helper()
	if opts.LoadingDuration == 0 {
		opts.LoadingDuration = 30 * time.Millisecond
	}
	if opts.ConfirmationDuration == 0 {
		opts.ConfirmationDuration = 20 * time.Millisecond
	}
	if opts.Uploader == nil {
		opts.Uploader = &fakeUploader{}
	}
	if opts.Generator == nil {
		opts.Generator = strategy.NewFixedResultGenerator(75)
	}
	c := NewController(opts)
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, c *Controller, desc string, cond func(models.FlowState) bool) models.FlowState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := c.Snapshot()
		if cond(s) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s, last state %+v", desc, c.Snapshot())
	return models.FlowState{}
}

func waitForStage(t *testing.T, c *Controller, stage models.Stage) models.FlowState {
	t.Helper()
	return waitFor(t, c, "stage "+string(stage), func(s models.FlowState) bool { return s.Stage == stage })
}

func openPreview(t *testing.T, c *Controller) {
	t.Helper()
	outcome, err := c.RequestUpload(capture.DataURIUpload(pngDataURI))
	if err != nil || !outcome.Accepted {
		t.Fatalf("Expected upload accepted, got %+v, %v", outcome, err)
	}
}

func TestController_FullSequence(t *testing.T) {
	c := newTestController(t, Options{})

	states, unsubscribe := c.Subscribe()
	defer unsubscribe()

	openPreview(t, c)
	s := c.Snapshot()
	if !s.PreviewOpen || s.PreviewImage == nil || s.Stage != models.StageHome {
		t.Fatalf("Expected preview open on home, got %+v", s)
	}
	if s.PreviewImage.Width != 1 || s.PreviewImage.Source != models.SourceUpload {
		t.Errorf("Unexpected preview image %+v", s.PreviewImage)
	}

	if err := c.ConfirmPreview(); err != nil {
		t.Fatalf("ConfirmPreview failed: %v", err)
	}
	s = c.Snapshot()
	if s.Stage != models.StageLoading || s.WorkingImage == nil || s.PreviewOpen || s.PreviewImage != nil {
		t.Fatalf("Expected loading with working image, got %+v", s)
	}

	seen := map[models.Stage]bool{}
	timeout := time.After(2 * time.Second)
	for !seen[models.StageResult] {
		select {
		case st := <-states:
			seen[st.Stage] = true
			if st.Stage == models.StageConfirmation && st.Result != nil {
				t.Error("Expected no result before the result stage")
			}
		case <-timeout:
			t.Fatalf("Timed out, stages seen: %v", seen)
		}
	}
	if !seen[models.StageConfirmation] {
		t.Error("Expected to pass through confirmation")
	}

	s = waitFor(t, c, "upload success", func(s models.FlowState) bool { return s.UploadStatus == models.UploadSucceeded })
	if s.Result == nil || s.Result.Percentage != 75 {
		t.Errorf("Expected fixed result 75, got %+v", s.Result)
	}
	if s.RemoteRef == nil || s.RemoteRef.URL == "" {
		t.Errorf("Expected remote ref, got %+v", s.RemoteRef)
	}

	if err := c.TryAgain(); err != nil {
		t.Fatalf("TryAgain failed: %v", err)
	}
	s = c.Snapshot()
	if s.Stage != models.StageHome || s.WorkingImage != nil || s.RemoteRef != nil || s.Result != nil {
		t.Errorf("Expected clean home state, got %+v", s)
	}
	if s.SessionToken != 2 || s.UploadStatus != models.UploadIdle {
		t.Errorf("Expected token 2 and idle upload, got %d %s", s.SessionToken, s.UploadStatus)
	}
}

func TestController_ConfirmWithoutPreviewIsNoop(t *testing.T) {
	c := newTestController(t, Options{})
	before := c.Snapshot()

	err := c.ConfirmPreview()
	if !errors.Is(err, ErrNoPreview) {
		t.Fatalf("Expected ErrNoPreview, got %v", err)
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeConflict) {
		t.Errorf("Expected conflict error type, got %v", err)
	}

	after := c.Snapshot()
	if after.Stage != models.StageHome || after.SessionToken != before.SessionToken || after.WorkingImage != nil {
		t.Errorf("Expected unchanged state, got %+v", after)
	}
}

func TestController_RejectedUploadLeavesStateUnchanged(t *testing.T) {
	recorder := &eventRecorder{}
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(recorder)
	c := newTestController(t, Options{Publisher: publisher})

	outcome, err := c.RequestUpload(capture.NewFileUpload("notes.txt", "text/plain", []byte("hello")))
	if outcome.Accepted {
		t.Fatal("Expected text file to be rejected")
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}

	s := c.Snapshot()
	if s.PreviewOpen || s.PreviewImage != nil {
		t.Errorf("Expected no preview, got %+v", s)
	}

	publisher.Drain()
	if !recorder.has(observer.ValidationRejected) {
		t.Error("Expected a validation_rejected event")
	}
}

func TestController_CancelAndRetakeDiscardPreview(t *testing.T) {
	c := newTestController(t, Options{})

	for name, discard := range map[string]func() error{
		"cancel": c.CancelPreview,
		"retake": c.RetakePreview,
	} {
		t.Run(name, func(t *testing.T) {
			openPreview(t, c)
			if err := discard(); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			s := c.Snapshot()
			if s.PreviewOpen || s.PreviewImage != nil || s.Stage != models.StageHome {
				t.Errorf("Expected preview discarded on home, got %+v", s)
			}
			if !errors.Is(c.ConfirmPreview(), ErrNoPreview) {
				t.Error("Expected confirm to be a no-op after discard")
			}
		})
	}
}

func TestController_TryAgainDiscardsStaleWork(t *testing.T) {
	recorder := &eventRecorder{}
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(recorder)

	uploader := &fakeUploader{release: make(chan struct{})}
	c := newTestController(t, Options{
		Uploader:        uploader,
		Publisher:       publisher,
		LoadingDuration: 40 * time.Millisecond,
	})

	openPreview(t, c)
	if err := c.ConfirmPreview(); err != nil {
		t.Fatalf("ConfirmPreview failed: %v", err)
	}
	waitFor(t, c, "upload call", func(models.FlowState) bool { return uploader.callCount() == 1 })

	if err := c.TryAgain(); err != nil {
		t.Fatalf("TryAgain failed: %v", err)
	}

	// the old loading timer would have fired by now
	time.Sleep(120 * time.Millisecond)

	s := c.Snapshot()
	if s.Stage != models.StageHome {
		t.Errorf("Expected to stay on home, got %s", s.Stage)
	}
	if s.RemoteRef != nil || s.UploadStatus != models.UploadIdle {
		t.Errorf("Expected stale upload to be dropped, got %+v", s)
	}

	c.Close()
	publisher.Drain()
	if !recorder.has(observer.UploadDiscarded) {
		t.Error("Expected an upload_discarded event")
	}
	if !recorder.has(observer.SessionReset) {
		t.Error("Expected a session_reset event")
	}
}

func TestController_TryAgainThenImmediateConfirm(t *testing.T) {
	uploader := &fakeUploader{release: make(chan struct{})}
	c := newTestController(t, Options{Uploader: uploader})

	openPreview(t, c)
	if err := c.ConfirmPreview(); err != nil {
		t.Fatalf("ConfirmPreview failed: %v", err)
	}
	if err := c.TryAgain(); err != nil {
		t.Fatalf("TryAgain failed: %v", err)
	}
	openPreview(t, c)
	if err := c.ConfirmPreview(); err != nil {
		t.Fatalf("second ConfirmPreview failed: %v", err)
	}

	close(uploader.release)
	s := waitForStage(t, c, models.StageResult)
	if s.SessionToken != 2 {
		t.Errorf("Expected session token 2, got %d", s.SessionToken)
	}
	waitFor(t, c, "upload success", func(s models.FlowState) bool { return s.UploadStatus == models.UploadSucceeded })
}

func TestController_UploadFailureDoesNotAffectFlow(t *testing.T) {
	c := newTestController(t, Options{Uploader: &fakeUploader{err: errors.New("network down")}})

	openPreview(t, c)
	if err := c.ConfirmPreview(); err != nil {
		t.Fatalf("ConfirmPreview failed: %v", err)
	}

	s := waitForStage(t, c, models.StageResult)
	if s.Result == nil {
		t.Fatal("Expected a result despite the upload failure")
	}
	s = waitFor(t, c, "upload failure", func(s models.FlowState) bool { return s.UploadStatus == models.UploadFailed })
	if s.RemoteRef != nil {
		t.Errorf("Expected no remote ref, got %+v", s.RemoteRef)
	}
}

func TestController_UnconfiguredUploaderIsSkipped(t *testing.T) {
	c := newTestController(t, Options{Uploader: storage.NewDisabledUploader("missing cloud name")})

	openPreview(t, c)
	if err := c.ConfirmPreview(); err != nil {
		t.Fatalf("ConfirmPreview failed: %v", err)
	}
	waitForStage(t, c, models.StageResult)
	waitFor(t, c, "skipped upload", func(s models.FlowState) bool { return s.UploadStatus == models.UploadSkipped })
}

func TestController_SlowUploadCompletesAfterResult(t *testing.T) {
	uploader := &fakeUploader{release: make(chan struct{})}
	c := newTestController(t, Options{Uploader: uploader})

	openPreview(t, c)
	if err := c.ConfirmPreview(); err != nil {
		t.Fatalf("ConfirmPreview failed: %v", err)
	}

	s := waitForStage(t, c, models.StageResult)
	if s.UploadStatus != models.UploadPending || s.RemoteRef != nil {
		t.Fatalf("Expected upload still pending at result, got %+v", s)
	}

	close(uploader.release)
	s = waitFor(t, c, "late upload", func(s models.FlowState) bool { return s.RemoteRef != nil })
	if s.Stage != models.StageResult {
		t.Errorf("Expected late upload to leave the stage alone, got %s", s.Stage)
	}
}

func TestController_QueueFullSkipsUpload(t *testing.T) {
	uploader := &fakeUploader{}
	metrics := observer.NewMetricsObserver()
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(metrics)
	c := newTestController(t, Options{Uploader: uploader, Dispatcher: rejectingDispatcher{}, Publisher: publisher})

	openPreview(t, c)
	if err := c.ConfirmPreview(); err != nil {
		t.Fatalf("ConfirmPreview failed: %v", err)
	}
	if s := c.Snapshot(); s.UploadStatus != models.UploadSkipped {
		t.Errorf("Expected skipped upload, got %s", s.UploadStatus)
	}

	waitForStage(t, c, models.StageResult)
	if uploader.callCount() != 0 {
		t.Errorf("Expected no upload call, got %d", uploader.callCount())
	}

	publisher.Drain()
	counters := metrics.GetMetrics()
	if counters["analyses_started"] != int64(1) {
		t.Errorf("Expected the analysis to be counted, got %v", counters["analyses_started"])
	}
	if counters["uploads_started"] != int64(0) || counters["uploads_skipped"] != int64(1) {
		t.Errorf("Expected a skipped upload only, got %v", counters)
	}
}

func TestController_OverlaysOnlyOnHome(t *testing.T) {
	c := newTestController(t, Options{LoadingDuration: time.Hour})

	openPreview(t, c)
	if err := c.ConfirmPreview(); err != nil {
		t.Fatalf("ConfirmPreview failed: %v", err)
	}

	if err := c.RequestCamera(); !errors.Is(err, ErrOverlayNotAllowed) {
		t.Errorf("Expected ErrOverlayNotAllowed for camera, got %v", err)
	}
	if _, err := c.RequestUpload(capture.DataURIUpload(pngDataURI)); !errors.Is(err, ErrOverlayNotAllowed) {
		t.Errorf("Expected ErrOverlayNotAllowed for upload, got %v", err)
	}

	s := c.Snapshot()
	if s.CameraOpen || s.PreviewOpen {
		t.Errorf("Expected no overlays outside home, got %+v", s)
	}
}

func TestController_CameraCapture(t *testing.T) {
	c := newTestController(t, Options{})

	if err := c.CaptureFrom(capture.PostedFrame(pngDataURI)); !errors.Is(err, ErrCameraClosed) {
		t.Errorf("Expected ErrCameraClosed before opening the camera, got %v", err)
	}

	if err := c.RequestCamera(); err != nil {
		t.Fatalf("RequestCamera failed: %v", err)
	}
	if err := c.CaptureFrom(capture.PostedFrame("")); err != nil {
		t.Errorf("Expected empty frame to be ignored, got %v", err)
	}
	if s := c.Snapshot(); !s.CameraOpen || s.PreviewOpen {
		t.Fatalf("Expected camera still open, got %+v", s)
	}

	if err := c.CaptureFrom(capture.PostedFrame(pngDataURI)); err != nil {
		t.Fatalf("CaptureFrom failed: %v", err)
	}
	s := c.Snapshot()
	if s.CameraOpen || !s.PreviewOpen || s.PreviewImage == nil {
		t.Fatalf("Expected preview from camera, got %+v", s)
	}
	if s.PreviewImage.Source != models.SourceCamera {
		t.Errorf("Expected camera source, got %s", s.PreviewImage.Source)
	}

	if err := c.RequestCamera(); !errors.Is(err, ErrOverlayNotAllowed) {
		t.Errorf("Expected camera blocked while previewing, got %v", err)
	}

	if err := c.RetakePreview(); err != nil {
		t.Fatalf("RetakePreview failed: %v", err)
	}
	s = c.Snapshot()
	if s.CameraOpen || s.PreviewOpen || s.PreviewImage != nil {
		t.Errorf("Expected retake of a camera frame to return home, got %+v", s)
	}
	if s.Stage != models.StageHome {
		t.Errorf("Expected home stage, got %s", s.Stage)
	}
}

func TestController_CameraErrorDisablesCapture(t *testing.T) {
	recorder := &eventRecorder{}
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(recorder)
	c := newTestController(t, Options{Publisher: publisher})

	if err := c.RequestCamera(); err != nil {
		t.Fatalf("RequestCamera failed: %v", err)
	}

	err := c.CaptureFrom(capture.FailedDevice(errors.New("NotAllowedError: permission denied")))
	if !apperrors.IsType(err, apperrors.ErrorTypeCapture) {
		t.Fatalf("Expected capture error, got %v", err)
	}

	s := c.Snapshot()
	if !s.CameraOpen || s.CameraError != CameraUnavailableMessage {
		t.Fatalf("Expected open camera with error, got %+v", s)
	}

	if err := c.OnCameraFrame(capture.Frame{DataURI: pngDataURI}); !errors.Is(err, ErrCameraUnavailable) {
		t.Errorf("Expected ErrCameraUnavailable, got %v", err)
	}
	if c.Snapshot().PreviewOpen {
		t.Error("Expected no preview after a device failure")
	}

	if err := c.CloseCamera(); err != nil {
		t.Fatalf("CloseCamera failed: %v", err)
	}
	if s := c.Snapshot(); s.CameraOpen || s.CameraError != "" {
		t.Errorf("Expected camera closed and cleared, got %+v", s)
	}

	publisher.Drain()
	if !recorder.has(observer.CameraFailed) {
		t.Error("Expected a camera_failed event")
	}
}

func TestController_SubscribeAndClose(t *testing.T) {
	c := newTestController(t, Options{})

	states, unsubscribe := c.Subscribe()
	first := <-states
	if first.Stage != models.StageHome {
		t.Errorf("Expected initial home state, got %s", first.Stage)
	}

	_ = c.RequestCamera()
	_ = c.CloseCamera()
	latest := <-states
	if latest.CameraOpen {
		t.Error("Expected only the latest state to be buffered")
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-states; ok {
		t.Error("Expected channel closed after unsubscribe")
	}

	other, _ := c.Subscribe()
	<-other
	c.Close()
	if _, ok := <-other; ok {
		t.Error("Expected channel closed after Close")
	}
	if err := c.TryAgain(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
