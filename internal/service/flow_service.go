package service

import (
	"context"
	"errors"
	"time"

	"github.com/anime-shed/photo-flow-go/internal/capture"
	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
	"github.com/anime-shed/photo-flow-go/internal/flow"
	"github.com/anime-shed/photo-flow-go/internal/logger"
	"github.com/anime-shed/photo-flow-go/internal/observer"
	"github.com/anime-shed/photo-flow-go/internal/repository"
	"github.com/anime-shed/photo-flow-go/internal/storage"
	"github.com/anime-shed/photo-flow-go/internal/strategy"
	"github.com/anime-shed/photo-flow-go/internal/view"
	"github.com/anime-shed/photo-flow-go/pkg/models"
	"github.com/anime-shed/photo-flow-go/pkg/validation"
)

// FlowService routes user intents to the flow session they belong to
type FlowService interface {
	// Session lifecycle
	CreateSession(ctx context.Context) (*repository.Session, view.View, error)
	GetView(ctx context.Context, sessionID string) (view.View, error)
	Watch(ctx context.Context, sessionID string) (<-chan view.View, error)
	EndSession(ctx context.Context, sessionID string) error
	SweepIdle(ctx context.Context) int

	// Home stage and overlays
	UploadPhoto(ctx context.Context, sessionID string, src capture.Source) (models.ValidationOutcome, view.View, error)
	UseCamera(ctx context.Context, sessionID string) (view.View, error)
	CaptureFrame(ctx context.Context, sessionID string, dataURI string) (view.View, error)
	CameraError(ctx context.Context, sessionID string, reason string) (view.View, error)
	CloseCamera(ctx context.Context, sessionID string) (view.View, error)
	ConfirmPreview(ctx context.Context, sessionID string) (view.View, error)
	CancelPreview(ctx context.Context, sessionID string) (view.View, error)
	Retake(ctx context.Context, sessionID string) (view.View, error)

	// Result stage
	TryAgain(ctx context.Context, sessionID string) (view.View, error)

	// MaxUploadSize is the largest raw image the validator accepts
	MaxUploadSize() int64
}

// FlowSettings are shared by every controller the service creates
type FlowSettings struct {
	LoadingDuration      time.Duration
	ConfirmationDuration time.Duration
	UploadTimeout        time.Duration
	SessionTTL           time.Duration
	Validator            *validation.ImageValidator
	Uploader             storage.Uploader
	Generator            strategy.ResultGenerator
	Dispatcher           flow.Dispatcher
	Publisher            observer.Subject
}

// flowService implements FlowService on top of a session repository
type flowService struct {
	sessions repository.SessionRepository
	settings FlowSettings
	now      func() time.Time
}

// NewFlowService creates a new flow service
func NewFlowService(sessions repository.SessionRepository, settings FlowSettings) FlowService {
	if settings.Validator == nil {
		settings.Validator = validation.NewImageValidator()
	}
	return &flowService{
		sessions: sessions,
		settings: settings,
		now:      time.Now,
	}
}

// CreateSession starts a new flow at the home stage
func (s *flowService) CreateSession(ctx context.Context) (*repository.Session, view.View, error) {
	session, err := s.sessions.Create(ctx, s.newController)
	if err != nil {
		return nil, view.View{}, mapRepositoryError(err)
	}

	logger.ForSession(session.ID, 0).Info("Flow session created")
	return session, s.render(session.Controller, session.Controller.Snapshot()), nil
}

func (s *flowService) newController(id string) *flow.Controller {
	return flow.NewController(flow.Options{
		SessionID:            id,
		LoadingDuration:      s.settings.LoadingDuration,
		ConfirmationDuration: s.settings.ConfirmationDuration,
		UploadTimeout:        s.settings.UploadTimeout,
		Validator:            s.settings.Validator,
		Uploader:             s.settings.Uploader,
		Generator:            s.settings.Generator,
		Dispatcher:           s.settings.Dispatcher,
		Publisher:            s.settings.Publisher,
	})
}

// GetView renders the current state of a session
func (s *flowService) GetView(ctx context.Context, sessionID string) (view.View, error) {
	c, err := s.controller(ctx, sessionID)
	if err != nil {
		return view.View{}, err
	}
	return s.render(c, c.Snapshot()), nil
}

// Watch streams a rendered view for every state change until ctx is done
// or the session ends.
func (s *flowService) Watch(ctx context.Context, sessionID string) (<-chan view.View, error) {
	c, err := s.controller(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	states, unsubscribe := c.Subscribe()
	out := make(chan view.View, 1)
	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case state, ok := <-states:
				if !ok {
					return
				}
				select {
				case out <- s.render(c, state):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// EndSession closes a session and releases its timers and upload
func (s *flowService) EndSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return mapRepositoryError(err)
	}
	logger.ForSession(sessionID, 0).Info("Flow session ended")
	return nil
}

// SweepIdle removes sessions without activity for longer than the session TTL
func (s *flowService) SweepIdle(ctx context.Context) int {
	if s.settings.SessionTTL <= 0 {
		return 0
	}
	return s.sessions.Sweep(ctx, s.now().Add(-s.settings.SessionTTL))
}

// UploadPhoto validates the picked image and opens the preview
func (s *flowService) UploadPhoto(ctx context.Context, sessionID string, src capture.Source) (models.ValidationOutcome, view.View, error) {
	c, err := s.controller(ctx, sessionID)
	if err != nil {
		return models.ValidationOutcome{}, view.View{}, err
	}

	outcome, err := c.RequestUpload(src)
	if err != nil {
		logger.ForSession(sessionID, 0).WithError(err).
			WithField("reason", outcome.Reason).
			Debug("Upload intent refused")
	}
	return outcome, s.render(c, c.Snapshot()), err
}

func (s *flowService) UseCamera(ctx context.Context, sessionID string) (view.View, error) {
	return s.apply(ctx, sessionID, (*flow.Controller).RequestCamera)
}

// CaptureFrame hands a frame taken by the client's camera widget to the session
func (s *flowService) CaptureFrame(ctx context.Context, sessionID string, dataURI string) (view.View, error) {
	return s.apply(ctx, sessionID, func(c *flow.Controller) error {
		return c.CaptureFrom(capture.PostedFrame(dataURI))
	})
}

// CameraError records a device or permission failure reported by the client
func (s *flowService) CameraError(ctx context.Context, sessionID string, reason string) (view.View, error) {
	return s.apply(ctx, sessionID, func(c *flow.Controller) error {
		return c.OnCameraError(reason)
	})
}

func (s *flowService) CloseCamera(ctx context.Context, sessionID string) (view.View, error) {
	return s.apply(ctx, sessionID, (*flow.Controller).CloseCamera)
}

func (s *flowService) ConfirmPreview(ctx context.Context, sessionID string) (view.View, error) {
	return s.apply(ctx, sessionID, (*flow.Controller).ConfirmPreview)
}

func (s *flowService) CancelPreview(ctx context.Context, sessionID string) (view.View, error) {
	return s.apply(ctx, sessionID, (*flow.Controller).CancelPreview)
}

func (s *flowService) Retake(ctx context.Context, sessionID string) (view.View, error) {
	return s.apply(ctx, sessionID, (*flow.Controller).RetakePreview)
}

func (s *flowService) TryAgain(ctx context.Context, sessionID string) (view.View, error) {
	return s.apply(ctx, sessionID, (*flow.Controller).TryAgain)
}

func (s *flowService) MaxUploadSize() int64 {
	return s.settings.Validator.MaxSize()
}

// apply runs an intent and renders the resulting state, even when the intent was refused
func (s *flowService) apply(ctx context.Context, sessionID string, intent func(*flow.Controller) error) (view.View, error) {
	c, err := s.controller(ctx, sessionID)
	if err != nil {
		return view.View{}, err
	}

	if err := intent(c); err != nil {
		if errors.Is(err, flow.ErrClosed) {
			return view.View{}, apperrors.NewNotFoundError("session not found", err)
		}
		return s.render(c, c.Snapshot()), err
	}
	return s.render(c, c.Snapshot()), nil
}

func (s *flowService) controller(ctx context.Context, sessionID string) (*flow.Controller, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return session.Controller, nil
}

func (s *flowService) render(c *flow.Controller, state models.FlowState) view.View {
	loading, confirmation := c.Timings()
	return view.Render(state, s.now(), view.Timings{Loading: loading, Confirmation: confirmation})
}

func mapRepositoryError(err error) error {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		return apperrors.NewNotFoundError("session not found", err)
	case errors.Is(err, repository.ErrSessionLimitReached), errors.Is(err, repository.ErrRepositoryUnavailable):
		return apperrors.NewCapacityError("no capacity for new sessions", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTimeoutError("request cancelled", err)
	default:
		return apperrors.NewInternalError("session storage failure", err)
	}
}
