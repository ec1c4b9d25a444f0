package container

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/photo-flow-go/internal/config"
	"github.com/anime-shed/photo-flow-go/internal/factory"
	"github.com/anime-shed/photo-flow-go/internal/logger"
	"github.com/anime-shed/photo-flow-go/internal/observer"
	"github.com/anime-shed/photo-flow-go/internal/repository"
	"github.com/anime-shed/photo-flow-go/internal/service"
	"github.com/anime-shed/photo-flow-go/internal/storage"
	"github.com/anime-shed/photo-flow-go/internal/transport"
	"github.com/anime-shed/photo-flow-go/internal/worker"
	"github.com/anime-shed/photo-flow-go/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config      *config.Config
	uploader    storage.Uploader
	uploadPool  *worker.Pool
	publisher   *observer.EventPublisher
	metrics     *observer.MetricsObserver
	sessions    *repository.InMemorySessionRepository
	flowService service.FlowService
	handler     http.Handler
	closeOnce   sync.Once
}

// NewContainer builds the dependency graph from a loaded configuration
func NewContainer(cfg *config.Config) (*Container, error) {
	logger.SetLevel(cfg.LogLevel)

	components := factory.NewComponentFactory(cfg)
	uploader, err := components.StorageFactory.CreateUploader(factory.StorageType(cfg.Storage.Backend))
	if err != nil {
		return nil, fmt.Errorf("failed to create uploader: %w", err)
	}
	generator := components.GeneratorFactory.CreateGenerator()

	publisher := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	publisher.Subscribe(metrics)

	uploadPool := worker.NewPool(cfg.Flow.UploadWorkers, 0)
	uploadPool.Start()

	sessions := repository.NewInMemorySessionRepository(cfg.Sessions.MaxSessions)
	flowService := service.NewFlowService(sessions, service.FlowSettings{
		LoadingDuration:      cfg.Flow.LoadingDuration,
		ConfirmationDuration: cfg.Flow.ConfirmationDuration,
		UploadTimeout:        cfg.Flow.UploadTimeout,
		SessionTTL:           cfg.Sessions.TTL,
		Validator:            validation.NewImageValidatorWithLimit(cfg.Flow.MaxImageSize),
		Uploader:             uploader,
		Generator:            generator,
		Dispatcher:           uploadPool,
		Publisher:            publisher,
	})

	c := &Container{
		config:      cfg,
		uploader:    uploader,
		uploadPool:  uploadPool,
		publisher:   publisher,
		metrics:     metrics,
		sessions:    sessions,
		flowService: flowService,
	}
	c.handler = transport.NewHandler(flowService, c, cfg)

	logger.WithFields(logrus.Fields{
		"storage":        uploader.Name(),
		"strategy":       generator.GetStrategyName(),
		"upload_workers": cfg.Flow.UploadWorkers,
		"loading":        cfg.Flow.LoadingDuration.String(),
		"confirmation":   cfg.Flow.ConfirmationDuration.String(),
	}).Info("Container initialized")

	return c, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// FlowService returns the session service
func (c *Container) FlowService() service.FlowService {
	return c.flowService
}

// GetMetrics merges flow counters with pool and session gauges
func (c *Container) GetMetrics() map[string]interface{} {
	out := c.metrics.GetMetrics()
	stats := c.uploadPool.GetStats()
	out["upload_queue_rejected"] = stats.RejectedJobs
	out["upload_jobs_completed"] = stats.CompletedJobs
	out["upload_workers_active"] = stats.ActiveWorkers
	out["active_sessions"] = c.sessions.Count()
	out["storage_backend"] = c.uploader.Name()
	return out
}

// RunJanitor expires idle sessions until ctx is cancelled
func (c *Container) RunJanitor(ctx context.Context) error {
	ticker := time.NewTicker(c.config.Sessions.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.flowService.SweepIdle(ctx); n > 0 {
				logger.WithField("expired", n).Debug("Session janitor pass")
			}
		}
	}
}

// CloseSessions ends every session. Open event streams receive their final
// event and return, so the HTTP server can finish shutting down.
func (c *Container) CloseSessions() {
	c.sessions.Close()
}

// Close ends every session, then drains uploads and event delivery
func (c *Container) Close() {
	c.closeOnce.Do(func() {
		c.sessions.Close()
		c.uploadPool.Close()
		c.publisher.Drain()
	})
}
