package csrfguard

import (
	"context"
	"time"

	"github.com/minus-twelve/csrfguard/types"
)

type Store interface {
	Save(ctx context.Context, token string, session types.SessionData) error
	Get(ctx context.Context, token string) (types.SessionData, error)
	Delete(ctx context.Context, token string) error
	Cleanup(ctx context.Context, ttl time.Duration) error
	GetAllByUserID(ctx context.Context, userID string) ([]string, error)
	// Touch marks the session active now and extends its lifetime.
	Touch(ctx context.Context, token string) error
	// SwapCSRFToken replaces the session's CSRF token with next only if it
	// still equals expected; otherwise it returns types.ErrCSRFTokenStale.
	SwapCSRFToken(ctx context.Context, token, expected, next string) error
}
