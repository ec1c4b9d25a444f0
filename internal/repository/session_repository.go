package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/photo-flow-go/internal/flow"
	"github.com/anime-shed/photo-flow-go/internal/logger"
)

// InMemorySessionRepository keeps sessions in process memory
type InMemorySessionRepository struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
	closed      bool
	newID       func() string
	now         func() time.Time
}

// NewInMemorySessionRepository creates a repository; maxSessions <= 0 means unlimited
func NewInMemorySessionRepository(maxSessions int) *InMemorySessionRepository {
	return &InMemorySessionRepository{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		newID:       func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// Create registers a new session
func (r *InMemorySessionRepository) Create(ctx context.Context, newController func(id string) *flow.Controller) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRepositoryUnavailable
	}
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, ErrSessionLimitReached
	}

	id := r.newID()
	session := &Session{
		ID:         id,
		CreatedAt:  r.now(),
		Controller: newController(id),
	}
	r.sessions[id] = session
	return session, nil
}

// Get retrieves a live session
func (r *InMemorySessionRepository) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Delete closes and removes a session
func (r *InMemorySessionRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	session, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	session.Controller.Close()
	return nil
}

// Sweep closes sessions whose last activity is before the cutoff
func (r *InMemorySessionRepository) Sweep(ctx context.Context, cutoff time.Time) int {
	r.mu.Lock()
	var expired []*Session
	for id, session := range r.sessions {
		if ctx.Err() != nil {
			break
		}
		if session.Controller.LastActivity().Before(cutoff) {
			expired = append(expired, session)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, session := range expired {
		session.Controller.Close()
	}
	if len(expired) > 0 {
		logger.WithFields(logrus.Fields{
			"expired":   len(expired),
			"remaining": r.Count(),
		}).Info("Swept idle sessions")
	}
	return len(expired)
}

// Count returns the number of live sessions
func (r *InMemorySessionRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close shuts down every session; later Create calls fail
func (r *InMemorySessionRepository) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.closed = true
	r.mu.Unlock()

	for _, session := range sessions {
		session.Controller.Close()
	}
}
