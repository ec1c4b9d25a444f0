package repository

import (
	"context"
	"time"

	"github.com/anime-shed/photo-flow-go/internal/flow"
)

// SessionRepository defines the interface for flow session storage
type SessionRepository interface {
	// Create registers a new session whose controller is built by newController
	Create(ctx context.Context, newController func(id string) *flow.Controller) (*Session, error)

	// Get retrieves a live session
	Get(ctx context.Context, id string) (*Session, error)

	// Delete closes and removes a session
	Delete(ctx context.Context, id string) error

	// Sweep closes every session idle since before the cutoff and returns how many were removed
	Sweep(ctx context.Context, cutoff time.Time) int

	// Count returns the number of live sessions
	Count() int

	// Close shuts down every session
	Close()
}

// Session is one browser flow hosted by the service
type Session struct {
	ID         string           `json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	Controller *flow.Controller `json:"-"`
}
