// Package server is the demo service: a gin API whose state-changing routes
// sit behind the CSRF guard.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minus-twelve/csrfguard"
	"github.com/minus-twelve/csrfguard/types"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg      types.Config
	store    csrfguard.Store
	sessions *csrfguard.SessionManager
	guard    *csrfguard.Guard
	limiter  *csrfguard.RateLimiter
	engine   *gin.Engine
	logger   *zap.Logger
}

// New builds the store named by cfg and wires the service around it.
func New(cfg types.Config, logger *zap.Logger) (*Server, error) {
	store, err := csrfguard.CreateStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	return NewWithStore(cfg, store, logger)
}

func NewWithStore(cfg types.Config, store csrfguard.Store, logger *zap.Logger) (*Server, error) {
	if err := csrfguard.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sessions := csrfguard.NewManager(store, cfg.Session, cfg.Security, logger.Named("sessions"))
	strategy, err := csrfguard.NewStrategy(cfg, sessions)
	if err != nil {
		sessions.Close()
		return nil, err
	}
	guard, err := csrfguard.New(strategy, cfg, logger.Named("csrf"))
	if err != nil {
		sessions.Close()
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		guard:    guard,
		limiter:  csrfguard.NewRateLimiter(cfg.Security.RateLimit),
		logger:   logger,
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("strategy", s.guard.Strategy().Name()),
			zap.String("store", s.cfg.StoreType),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Close stops the session cleanup loop and releases the store.
func (s *Server) Close() error {
	s.sessions.Close()
	if closer, ok := s.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
