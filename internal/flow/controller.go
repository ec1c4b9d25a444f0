package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/photo-flow-go/internal/capture"
	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
	"github.com/anime-shed/photo-flow-go/internal/logger"
	"github.com/anime-shed/photo-flow-go/internal/observer"
	"github.com/anime-shed/photo-flow-go/internal/storage"
	"github.com/anime-shed/photo-flow-go/internal/strategy"
	"github.com/anime-shed/photo-flow-go/pkg/models"
	"github.com/anime-shed/photo-flow-go/pkg/validation"
)

const (
	DefaultLoadingDuration      = 8 * time.Second
	DefaultConfirmationDuration = 3 * time.Second
	DefaultUploadTimeout        = 30 * time.Second
)

// Dispatcher runs background jobs without blocking the caller.
type Dispatcher interface {
	TrySubmit(job func()) bool
}

// Options configure a Controller. Zero values fall back to defaults.
type Options struct {
	SessionID            string
	LoadingDuration      time.Duration
	ConfirmationDuration time.Duration
	UploadTimeout        time.Duration
	Validator            *validation.ImageValidator
	Uploader             storage.Uploader
	Generator            strategy.ResultGenerator
	Dispatcher           Dispatcher
	Publisher            observer.Subject
	Clock                func() time.Time
}

// Controller owns the state of one flow session. Every mutation happens under mu,
// and async completions carry the session token they were started with.
type Controller struct {
	opts Options

	mu           sync.Mutex
	state        models.FlowState
	timer        *time.Timer
	cancelUpload context.CancelFunc
	subscribers  map[int]chan models.FlowState
	nextSubID    int
	lastActivity time.Time
	closed       bool

	inflight sync.WaitGroup
}

// NewController creates a controller at the home stage
func NewController(opts Options) *Controller {
	if opts.LoadingDuration <= 0 {
		opts.LoadingDuration = DefaultLoadingDuration
	}
	if opts.ConfirmationDuration <= 0 {
		opts.ConfirmationDuration = DefaultConfirmationDuration
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}
	if opts.Validator == nil {
		opts.Validator = validation.NewImageValidator()
	}
	if opts.Uploader == nil {
		opts.Uploader = storage.NewDisabledUploader("no uploader configured")
	}
	if opts.Generator == nil {
		opts.Generator = strategy.NewRandomResultGenerator()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	now := opts.Clock()
	return &Controller{
		opts: opts,
		state: models.FlowState{
			SessionToken:   1,
			Stage:          models.StageHome,
			StageEnteredAt: now,
			UploadStatus:   models.UploadIdle,
		},
		subscribers:  make(map[int]chan models.FlowState),
		lastActivity: now,
	}
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() models.FlowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActivity is the time of the most recent intent
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Timings exposes the stage delays for presentation
func (c *Controller) Timings() (loading, confirmation time.Duration) {
	return c.opts.LoadingDuration, c.opts.ConfirmationDuration
}

// Subscribe delivers the current state immediately and then every change.
// Slow readers only ever see the latest state.
func (c *Controller) Subscribe() (<-chan models.FlowState, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan models.FlowState, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	ch <- c.state

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
}

// RequestUpload validates a user supplied image and opens the preview overlay.
// A rejected input leaves the state unchanged.
func (c *Controller) RequestUpload(src capture.Source) (models.ValidationOutcome, error) {
	if src == nil {
		outcome := c.opts.Validator.Validate(nil)
		c.publish(observer.FlowEvent{EventType: observer.ValidationRejected, ErrorMessage: outcome.Reason}, 0)
		return outcome, validation.AsError(outcome)
	}

	outcome := c.opts.Validator.Validate(src.ValidationInput())
	if !outcome.Accepted {
		c.mu.Lock()
		c.touchLocked()
		token := c.state.SessionToken
		c.mu.Unlock()
		c.publish(observer.FlowEvent{EventType: observer.ValidationRejected, ErrorMessage: outcome.Reason}, token)
		return outcome, validation.AsError(outcome)
	}

	img, err := src.Decode()
	if err != nil {
		var appErr *apperrors.AppError
		reason := err.Error()
		if errors.As(err, &appErr) {
			reason = appErr.Message
		}
		return models.Reject(reason), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireHomeLocked(); err != nil {
		return outcome, err
	}
	if c.state.CameraOpen {
		return outcome, apperrors.NewConflictError("close the camera before uploading a photo", ErrOverlayNotAllowed)
	}

	c.touchLocked()
	c.state.PreviewImage = &img
	c.state.PreviewOpen = true
	c.publishLocked(observer.FlowEvent{EventType: observer.PreviewOpened, Metadata: map[string]interface{}{"source": img.Source}})
	c.notifyLocked()
	return outcome, nil
}

// RequestCamera opens the capture overlay
func (c *Controller) RequestCamera() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireHomeLocked(); err != nil {
		return err
	}
	if c.state.PreviewOpen {
		return apperrors.NewConflictError("a preview is already open", ErrOverlayNotAllowed)
	}

	c.touchLocked()
	c.state.CameraOpen = true
	c.state.CameraError = ""
	c.notifyLocked()
	return nil
}

// OnCameraError marks the camera unavailable. The overlay stays open so the user can cancel.
func (c *Controller) OnCameraError(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !c.state.CameraOpen {
		return apperrors.NewConflictError("camera is not open", ErrCameraClosed)
	}

	c.touchLocked()
	c.state.CameraError = CameraUnavailableMessage
	c.publishLocked(observer.FlowEvent{EventType: observer.CameraFailed, ErrorMessage: reason})
	c.notifyLocked()
	return nil
}

// CloseCamera dismisses the capture overlay
func (c *Controller) CloseCamera() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	c.touchLocked()
	if !c.state.CameraOpen && c.state.CameraError == "" {
		return nil
	}
	c.state.CameraOpen = false
	c.state.CameraError = ""
	c.notifyLocked()
	return nil
}

// OnCameraFrame takes a captured frame into the preview overlay.
// The device is trusted to emit a displayable frame, so the validator is not consulted.
func (c *Controller) OnCameraFrame(frame capture.Frame) error {
	if err := c.checkCaptureEnabled(); err != nil {
		return err
	}

	img, err := frame.Decode()
	if err != nil {
		return apperrors.NewCaptureError("captured frame could not be read", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.captureEnabledLocked(); err != nil {
		return err
	}

	c.touchLocked()
	c.state.PreviewImage = &img
	c.state.PreviewOpen = true
	c.state.CameraOpen = false
	c.publishLocked(observer.FlowEvent{EventType: observer.PreviewOpened, Metadata: map[string]interface{}{"source": img.Source}})
	c.notifyLocked()
	return nil
}

// CaptureFrom asks a device for its current frame. Device failures switch the
// overlay to the camera unavailable state; an empty frame is ignored.
func (c *Controller) CaptureFrom(dev capture.Device) error {
	if err := c.checkCaptureEnabled(); err != nil {
		return err
	}

	frame, err := dev.Screenshot()
	if errors.Is(err, capture.ErrEmptyFrame) {
		return nil
	}
	if err != nil {
		if cerr := c.OnCameraError(err.Error()); cerr != nil {
			return cerr
		}
		return apperrors.NewCaptureError(CameraUnavailableMessage, err)
	}
	return c.OnCameraFrame(frame)
}

// ConfirmPreview moves the preview into the working image and starts the analysis.
// Without a preview it is a no-op returning ErrNoPreview.
func (c *Controller) ConfirmPreview() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state.PreviewImage == nil {
		return apperrors.NewConflictError("there is no preview to confirm", ErrNoPreview)
	}
	if err := c.requireHomeLocked(); err != nil {
		return err
	}

	c.touchLocked()
	c.state.WorkingImage = c.state.PreviewImage
	c.state.PreviewImage = nil
	c.state.PreviewOpen = false
	c.state.CameraOpen = false
	c.state.CameraError = ""
	c.enterStageLocked(models.StageLoading)
	c.startAnalysisLocked()
	c.notifyLocked()
	return nil
}

// CancelPreview closes the preview overlay and discards its image
func (c *Controller) CancelPreview() error {
	return c.discardPreview()
}

// RetakePreview discards the preview and returns to the home stage, like cancel.
func (c *Controller) RetakePreview() error {
	return c.discardPreview()
}

func (c *Controller) discardPreview() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	c.touchLocked()
	if !c.state.PreviewOpen && c.state.PreviewImage == nil {
		return nil
	}
	c.state.PreviewOpen = false
	c.state.PreviewImage = nil
	c.notifyLocked()
	return nil
}

// TryAgain resets the session. Pending timers are stopped and the in-flight
// upload is cancelled; anything still completing for the old token is dropped.
func (c *Controller) TryAgain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	c.touchLocked()
	c.stopTimerLocked()
	c.cancelUploadLocked()

	prevToken := c.state.SessionToken
	c.state = models.FlowState{
		SessionToken: prevToken + 1,
		Stage:        c.state.Stage,
		UploadStatus: models.UploadIdle,
	}
	c.enterStageLocked(models.StageHome)
	c.publishLocked(observer.FlowEvent{EventType: observer.SessionReset, Metadata: map[string]interface{}{"previous_token": prevToken}})
	c.notifyLocked()
	return nil
}

// Close stops timers, cancels the upload and closes subscriber channels.
// It waits for background work started by this controller to return.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	c.cancelUploadLocked()
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.mu.Unlock()

	c.inflight.Wait()
}

// startAnalysisLocked fires the upload and arms the first stage timer.
// The two timelines are independent: stage progression never waits for the upload.
func (c *Controller) startAnalysisLocked() {
	token := c.state.SessionToken
	img := *c.state.WorkingImage

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.UploadTimeout)
	c.cancelUpload = cancel
	c.state.UploadStatus = models.UploadPending

	c.inflight.Add(1)
	job := func() {
		defer c.inflight.Done()
		c.runUpload(ctx, cancel, token, img)
	}

	submitted := true
	if c.opts.Dispatcher == nil {
		go job()
	} else {
		submitted = c.opts.Dispatcher.TrySubmit(job)
	}

	if submitted {
		c.publishLocked(observer.FlowEvent{EventType: observer.UploadStarted, Metadata: map[string]interface{}{"provider": c.opts.Uploader.Name()}})
	} else {
		c.inflight.Done()
		cancel()
		c.cancelUpload = nil
		c.state.UploadStatus = models.UploadSkipped
		c.publishLocked(observer.FlowEvent{EventType: observer.UploadSkipped, ErrorMessage: "upload queue full"})
	}

	c.timer = time.AfterFunc(c.opts.LoadingDuration, func() {
		c.advance(token, models.StageConfirmation)
	})
}

func (c *Controller) runUpload(ctx context.Context, cancel context.CancelFunc, token uint64, img models.WorkingImage) {
	defer cancel()

	start := time.Now()
	ref, err := c.opts.Uploader.Upload(ctx, img)
	elapsed := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || token != c.state.SessionToken {
		c.publishLocked(observer.FlowEvent{
			EventType: observer.UploadDiscarded,
			Duration:  elapsed,
			Metadata:  map[string]interface{}{"upload_token": token},
		})
		return
	}
	c.cancelUpload = nil

	if err != nil {
		status, eventType := models.UploadFailed, observer.UploadFailed
		if errors.Is(err, storage.ErrNotConfigured) {
			status, eventType = models.UploadSkipped, observer.UploadSkipped
		}
		c.state.UploadStatus = status
		c.publishLocked(observer.FlowEvent{EventType: eventType, Duration: elapsed, ErrorMessage: err.Error()})
		c.notifyLocked()
		return
	}

	c.state.RemoteRef = ref
	c.state.UploadStatus = models.UploadSucceeded
	c.publishLocked(observer.FlowEvent{
		EventType: observer.UploadSucceeded,
		Success:   true,
		Duration:  elapsed,
		Metadata:  map[string]interface{}{"url": ref.URL, "provider": ref.Provider},
	})
	c.notifyLocked()
}

// advance is the timer callback; stale tokens are ignored.
func (c *Controller) advance(token uint64, next models.Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || token != c.state.SessionToken {
		return
	}

	switch next {
	case models.StageConfirmation:
		if c.state.Stage != models.StageLoading {
			return
		}
		c.enterStageLocked(models.StageConfirmation)
		c.timer = time.AfterFunc(c.opts.ConfirmationDuration, func() {
			c.advance(token, models.StageResult)
		})
	case models.StageResult:
		if c.state.Stage != models.StageConfirmation || c.state.WorkingImage == nil {
			return
		}
		result := c.opts.Generator.Generate(*c.state.WorkingImage)
		result.Percentage = min(max(result.Percentage, 0), 100)
		c.state.Result = &result
		c.publishLocked(observer.FlowEvent{
			EventType: observer.ResultGenerated,
			Success:   true,
			Metadata:  map[string]interface{}{"percentage": result.Percentage, "strategy": c.opts.Generator.GetStrategyName()},
		})
		c.enterStageLocked(models.StageResult)
		c.timer = nil
	default:
		return
	}
	c.notifyLocked()
}

func (c *Controller) checkCaptureEnabled() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captureEnabledLocked()
}

func (c *Controller) captureEnabledLocked() error {
	if c.closed {
		return ErrClosed
	}
	if !c.state.CameraOpen {
		return apperrors.NewConflictError("camera is not open", ErrCameraClosed)
	}
	if c.state.CameraError != "" {
		return apperrors.NewCaptureError(CameraUnavailableMessage, ErrCameraUnavailable)
	}
	return nil
}

func (c *Controller) requireHomeLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.state.Stage != models.StageHome {
		return apperrors.NewConflictError("intent is only valid on the home stage", ErrOverlayNotAllowed).
			WithDetails("current stage: " + string(c.state.Stage))
	}
	return nil
}

func (c *Controller) enterStageLocked(next models.Stage) {
	prev := c.state.Stage
	c.state.Stage = next
	c.state.StageEnteredAt = c.opts.Clock()

	logger.ForSession(c.opts.SessionID, c.state.SessionToken).WithFields(logrus.Fields{
		"from": prev,
		"to":   next,
	}).Debug("flow stage transition")
	c.publishLocked(observer.FlowEvent{
		EventType: observer.StageChanged,
		Success:   true,
		Metadata:  map[string]interface{}{"from": string(prev), "to": string(next)},
	})
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) cancelUploadLocked() {
	if c.cancelUpload != nil {
		c.cancelUpload()
		c.cancelUpload = nil
	}
}

func (c *Controller) touchLocked() {
	c.lastActivity = c.opts.Clock()
}

// notifyLocked replaces whatever a slow subscriber has not read yet
func (c *Controller) notifyLocked() {
	snapshot := c.state
	for _, ch := range c.subscribers {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

func (c *Controller) publishLocked(event observer.FlowEvent) {
	c.publish(event, c.state.SessionToken)
}

func (c *Controller) publish(event observer.FlowEvent, token uint64) {
	if c.opts.Publisher == nil {
		return
	}
	event.SessionID = c.opts.SessionID
	if event.SessionToken == 0 {
		event.SessionToken = token
	}
	c.opts.Publisher.NotifyObservers(context.Background(), event)
}
