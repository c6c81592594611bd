package types

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrCSRFTokenStale means the session's CSRF token changed under a swap.
	ErrCSRFTokenStale = errors.New("csrf token changed concurrently")
	ErrMaxSessions    = errors.New("max sessions limit reached")
)
