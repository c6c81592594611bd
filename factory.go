package csrfguard

import (
	"fmt"

	"github.com/minus-twelve/csrfguard/storage"
	"github.com/minus-twelve/csrfguard/types"
)

func CreateStore(cfg types.Config) (Store, error) {
	switch cfg.StoreType {
	case "memory":
		return storage.NewMemoryStore(cfg.Memory.MaxSessions), nil
	case "redis":
		return storage.NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("invalid store type %q", cfg.StoreType)
	}
}

// NewStrategy builds the single strategy the deployment is configured for.
// The session strategy needs a SessionManager; the others ignore it.
func NewStrategy(cfg types.Config, sessions *SessionManager) (Strategy, error) {
	switch cfg.CSRF.Strategy {
	case StrategyDoubleSubmit:
		s, err := NewDoubleSubmit(cfg.CSRF.Cookie)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StrategySigned:
		s, err := NewSigned([]byte(cfg.CSRF.Secret), cfg.CSRF.Cookie)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StrategySession:
		if sessions == nil {
			return nil, fmt.Errorf("session strategy requires a session manager")
		}
		return NewSessionBound(sessions, cfg.CSRF.Rotate), nil
	default:
		return nil, fmt.Errorf("invalid csrf strategy %q", cfg.CSRF.Strategy)
	}
}
