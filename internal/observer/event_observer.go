package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/photo-flow-go/pkg/models"
)

// FlowEvent represents something that happened inside a flow session
type FlowEvent struct {
	EventType    EventType              `json:"event_type"`
	Timestamp    time.Time              `json:"timestamp"`
	SessionID    string                 `json:"session_id"`
	SessionToken uint64                 `json:"session_token"`
	Duration     time.Duration          `json:"duration,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of flow event
type EventType string

const (
	StageChanged       EventType = "stage_changed"
	PreviewOpened      EventType = "preview_opened"
	ValidationRejected EventType = "validation_rejected"
	CameraFailed       EventType = "camera_failed"
	UploadStarted      EventType = "upload_started"
	UploadSucceeded    EventType = "upload_succeeded"
	UploadFailed       EventType = "upload_failed"
	UploadSkipped      EventType = "upload_skipped"
	UploadDiscarded    EventType = "upload_discarded"
	ResultGenerated    EventType = "result_generated"
	SessionReset       EventType = "session_reset"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event FlowEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event FlowEvent)
}

// LoggingObserver logs flow events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles flow events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event FlowEvent) {
	fields := logrus.Fields{
		"event_type":    event.EventType,
		"session_id":    event.SessionID,
		"session_token": event.SessionToken,
		"success":       event.Success,
	}
	if event.Duration > 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case UploadFailed:
		// never surfaced to the user, so the log is the only trace
		entry.Error("Background upload failed")
	case UploadSkipped:
		entry.Warn("Background upload skipped")
	case CameraFailed:
		entry.Warn("Camera unavailable")
	case ValidationRejected:
		entry.Info("Image rejected by validator")
	case UploadSucceeded:
		entry.Info("Image uploaded")
	case UploadDiscarded:
		entry.Debug("Discarded stale upload completion")
	case StageChanged:
		entry.Debug("Stage changed")
	default:
		entry.Info("Flow event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from flow events
type MetricsObserver struct {
	mu                  sync.RWMutex
	analysesStarted     int64
	uploadsStarted      int64
	resultsShown        int64
	rejections          int64
	cameraFailures      int64
	uploadsSucceeded    int64
	uploadsFailed       int64
	uploadsSkipped      int64
	uploadsDiscarded    int64
	resets              int64
	totalUploadDuration time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles flow events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event FlowEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case StageChanged:
		// every analysis enters loading, whether or not its upload was queued
		if to, _ := event.Metadata["to"].(string); to == string(models.StageLoading) {
			o.analysesStarted++
		}
	case UploadStarted:
		o.uploadsStarted++
	case ResultGenerated:
		o.resultsShown++
	case ValidationRejected:
		o.rejections++
	case CameraFailed:
		o.cameraFailures++
	case UploadSucceeded:
		o.uploadsSucceeded++
		o.totalUploadDuration += event.Duration
	case UploadFailed:
		o.uploadsFailed++
	case UploadSkipped:
		o.uploadsSkipped++
	case UploadDiscarded:
		o.uploadsDiscarded++
	case SessionReset:
		o.resets++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgUploadTime := time.Duration(0)
	if o.uploadsSucceeded > 0 {
		avgUploadTime = o.totalUploadDuration / time.Duration(o.uploadsSucceeded)
	}

	return map[string]interface{}{
		"analyses_started":  o.analysesStarted,
		"uploads_started":   o.uploadsStarted,
		"results_shown":     o.resultsShown,
		"rejections":        o.rejections,
		"camera_failures":   o.cameraFailures,
		"uploads_succeeded": o.uploadsSucceeded,
		"uploads_failed":    o.uploadsFailed,
		"uploads_skipped":   o.uploadsSkipped,
		"uploads_discarded": o.uploadsDiscarded,
		"resets":            o.resets,
		"avg_upload_ms":     avgUploadTime.Milliseconds(),
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	wg        sync.WaitGroup
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event
func (p *EventPublisher) NotifyObservers(ctx context.Context, event FlowEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	// Notify observers concurrently
	for _, observer := range observers {
		p.wg.Add(1)
		go func(obs Observer) {
			defer p.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					// Log panic but don't crash the application
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}

// Drain waits for in-flight notifications to finish
func (p *EventPublisher) Drain() {
	p.wg.Wait()
}
