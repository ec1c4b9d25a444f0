package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/photo-flow-go/internal/capture"
	"github.com/anime-shed/photo-flow-go/internal/config"
	apperrors "github.com/anime-shed/photo-flow-go/internal/errors"
	"github.com/anime-shed/photo-flow-go/internal/logger"
	"github.com/anime-shed/photo-flow-go/internal/service"
	"github.com/anime-shed/photo-flow-go/internal/view"
	"github.com/anime-shed/photo-flow-go/pkg/models"
)

const version = "1.0.0"

// MetricsProvider exposes counters for the metrics endpoint
type MetricsProvider interface {
	GetMetrics() map[string]interface{}
}

type handler struct {
	svc     service.FlowService
	metrics MetricsProvider
	cfg     *config.Config
}

func NewHandler(svc service.FlowService, metrics MetricsProvider, cfg *config.Config) http.Handler {
	h := &handler{svc: svc, metrics: metrics, cfg: cfg}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	r.GET("/health", healthCheck)
	r.GET("/metrics", h.getMetrics)

	sessions := r.Group("/sessions")
	sessions.POST("", h.createSession)
	sessions.GET("/:id", h.getSession)
	sessions.DELETE("/:id", h.endSession)
	sessions.GET("/:id/events", h.streamEvents)

	sessions.POST("/:id/upload", h.uploadPhoto)
	sessions.POST("/:id/camera", h.intent(h.svc.UseCamera))
	sessions.POST("/:id/camera/frame", h.captureFrame)
	sessions.POST("/:id/camera/error", h.cameraError)
	sessions.POST("/:id/camera/close", h.intent(h.svc.CloseCamera))
	sessions.POST("/:id/preview/confirm", h.intent(h.svc.ConfirmPreview))
	sessions.POST("/:id/preview/cancel", h.intent(h.svc.CancelPreview))
	sessions.POST("/:id/preview/retake", h.intent(h.svc.Retake))
	sessions.POST("/:id/try-again", h.intent(h.svc.TryAgain))

	return r
}

func (h *handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.cfg.RequestTimeout)
}

func (h *handler) createSession(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	session, v, err := h.svc.CreateSession(ctx)
	if err != nil {
		respondError(c, determineStatusCode(err), "failed to create session", err)
		return
	}

	c.Header("Location", "/sessions/"+session.ID)
	c.JSON(http.StatusCreated, models.SessionResponse{ID: session.ID, View: v})
}

func (h *handler) getSession(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	id := c.Param("id")
	v, err := h.svc.GetView(ctx, id)
	if err != nil {
		respondError(c, determineStatusCode(err), "failed to read session", err)
		return
	}
	c.JSON(http.StatusOK, models.SessionResponse{ID: id, View: v})
}

func (h *handler) endSession(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.svc.EndSession(ctx, c.Param("id")); err != nil {
		respondError(c, determineStatusCode(err), "failed to end session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// streamEvents pushes a "state" event for every change until the client
// disconnects or the session ends.
func (h *handler) streamEvents(c *gin.Context) {
	id := c.Param("id")
	views, err := h.svc.Watch(c.Request.Context(), id)
	if err != nil {
		respondError(c, determineStatusCode(err), "failed to watch session", err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case v, ok := <-views:
			if !ok {
				c.SSEvent("end", gin.H{"id": id})
				return false
			}
			c.SSEvent("state", models.SessionResponse{ID: id, View: v})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *handler) uploadPhoto(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	id := c.Param("id")
	src, err := h.readUploadSource(c)
	if err != nil {
		respondError(c, determineStatusCode(err), "invalid upload", err)
		return
	}

	outcome, v, err := h.svc.UploadPhoto(ctx, id, src)
	if err != nil && !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		respondError(c, determineStatusCode(err), "upload refused", err)
		return
	}

	status := http.StatusOK
	if !outcome.Accepted {
		status = http.StatusBadRequest
	}
	c.JSON(status, models.UploadResponse{
		SessionResponse: models.SessionResponse{ID: id, View: v},
		Validation:      outcome,
	})
}

// readUploadSource accepts a multipart "file" field or a JSON data URI
func (h *handler) readUploadSource(c *gin.Context) (capture.Source, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			return nil, bindError(err)
		}
		f, err := header.Open()
		if err != nil {
			return nil, apperrors.NewInternalError("failed to open uploaded file", err)
		}
		defer f.Close()

		upload, err := capture.ReadFileUpload(header.Filename, header.Header.Get("Content-Type"), f, h.cfg.MaxRequestBodySize)
		if err != nil {
			return nil, bindError(err)
		}
		return upload, nil
	}

	var req models.DataURIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, bindError(err)
	}
	return capture.DataURIUpload(req.DataURI), nil
}

func (h *handler) captureFrame(c *gin.Context) {
	var req models.DataURIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, determineStatusCode(bindError(err)), "invalid request format", bindError(err))
		return
	}
	h.intent(func(ctx context.Context, id string) (view.View, error) {
		return h.svc.CaptureFrame(ctx, id, req.DataURI)
	})(c)
}

func (h *handler) cameraError(c *gin.Context) {
	var req models.CameraErrorRequest
	// an empty body still reports a failure
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, determineStatusCode(bindError(err)), "invalid request format", bindError(err))
			return
		}
	}
	h.intent(func(ctx context.Context, id string) (view.View, error) {
		return h.svc.CameraError(ctx, id, req.Reason)
	})(c)
}

// intent adapts a service intent to a handler that answers with the new view
func (h *handler) intent(apply func(ctx context.Context, sessionID string) (view.View, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := h.requestContext(c)
		defer cancel()

		id := c.Param("id")
		v, err := apply(ctx, id)
		if err != nil {
			respondError(c, determineStatusCode(err), "intent refused", err)
			return
		}
		c.JSON(http.StatusOK, models.SessionResponse{ID: id, View: v})
	}
}

func (h *handler) getMetrics(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, h.metrics.GetMetrics())
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Middleware and helper functions
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// event streams stay open for the whole session
		if strings.HasSuffix(c.FullPath(), "/events") {
			return
		}
		logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		}).Debug("Request handled")
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			respondError(c, determineStatusCode(err.Err), "request processing failed", err.Err)
		}
	}
}

// bindError classifies request decoding failures
func bindError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) || errors.Is(err, capture.ErrFileTooLarge) {
		return &apperrors.AppError{
			Type:       apperrors.ErrorTypeValidation,
			Message:    "Request body too large",
			StatusCode: http.StatusRequestEntityTooLarge,
			Cause:      err,
		}
	}
	return apperrors.NewValidationError("invalid request format", err)
}

func determineStatusCode(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	fields := logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}
	entry := logger.WithError(err).WithFields(fields)
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request refused")
	}

	resp := models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Message = appErr.Message
		resp.Type = string(appErr.Type)
	}
	c.AbortWithStatusJSON(code, resp)
}
