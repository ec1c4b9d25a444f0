package repository

import "errors"

var (
	// ErrSessionNotFound indicates the session does not exist or has expired
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionLimitReached indicates the repository is at capacity
	ErrSessionLimitReached = errors.New("session limit reached")

	// ErrRepositoryUnavailable indicates the repository has been closed
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
