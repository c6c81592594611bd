package csrfguard

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minus-twelve/csrfguard/token"
	"github.com/minus-twelve/csrfguard/types"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// Guard gates state-changing requests behind a single Strategy. Safe methods
// and public routes pass unconditionally.
type Guard struct {
	strategy       Strategy
	publicRoutes   []string
	production     bool
	trustedProxies []net.IPNet
	cookies        cookieWriter
	issueLimiter   *RateLimiter
	logger         *zap.Logger
}

func New(strategy Strategy, cfg types.Config, logger *zap.Logger) (*Guard, error) {
	if strategy == nil {
		return nil, errors.New("csrf strategy is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cookies, err := newCookieWriter(cfg.CSRF.Cookie)
	if err != nil {
		return nil, err
	}

	return &Guard{
		strategy:       strategy,
		publicRoutes:   cfg.CSRF.PublicRoutes,
		production:     IsProduction(cfg),
		trustedProxies: parseTrustedProxies(cfg.Security.TrustedProxies),
		cookies:        cookies,
		issueLimiter:   NewRateLimiter(cfg.Security.RateLimit),
		logger:         logger.With(zap.String("strategy", strategy.Name())),
	}, nil
}

func (g *Guard) Strategy() Strategy {
	return g.strategy
}

// Check runs the guard without writing a response. The strategy may still set
// response headers (session rotation).
func (g *Guard) Check(w http.ResponseWriter, r *http.Request) error {
	if token.IsSafeMethod(r.Method) {
		decisionsTotal.WithLabelValues(g.strategy.Name(), resultSkippedSafe).Inc()
		return nil
	}
	if g.isPublicRoute(r.URL.Path) {
		decisionsTotal.WithLabelValues(g.strategy.Name(), resultSkippedPublic).Inc()
		return nil
	}

	err := g.strategy.Validate(w, r)
	fields := g.diagnostics(r)
	if err != nil {
		decisionsTotal.WithLabelValues(g.strategy.Name(), Reason(err)).Inc()
		if !IsValidationError(err) {
			g.logger.Error("csrf check errored", append(fields, zap.Error(err))...)
			return err
		}
		g.logger.Warn("csrf validation failed", append(fields,
			zap.String("reason", Reason(err)),
			zap.Error(err),
		)...)
		return err
	}

	decisionsTotal.WithLabelValues(g.strategy.Name(), resultPassed).Inc()
	g.logger.Debug("csrf validation passed", fields...)
	return nil
}

func (g *Guard) isPublicRoute(path string) bool {
	for _, route := range g.publicRoutes {
		if route != "" && strings.Contains(path, route) {
			return true
		}
	}
	return false
}

// diagnostics never carries a full token.
func (g *Guard) diagnostics(r *http.Request) []zap.Field {
	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("ip", clientIP(r, g.trustedProxies)),
		zap.String("request_id", requestID),
		zap.String("header_token", token.Prefix(r.Header.Get(token.HeaderName))),
		zap.String("cookie_token", token.Prefix(cookieToken(r))),
	}
}

// Message is the client-facing text for a validation error.
func (g *Guard) Message(err error) string {
	if g.production {
		return GenericMessage
	}
	return err.Error()
}

// response maps a Check error to a status and body message: 403 for
// validation errors, 500 with a generic message for anything else.
func (g *Guard) response(err error) (int, string) {
	if !IsValidationError(err) {
		return http.StatusInternalServerError, "internal error"
	}
	return http.StatusForbidden, g.Message(err)
}

func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := g.Check(c.Writer, c.Request); err != nil {
			status, message := g.response(err)
			c.AbortWithStatusJSON(status, gin.H{"error": message})
			return
		}
		c.Next()
	}
}

// Handler is the net/http form of Middleware.
func (g *Guard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Check(w, r); err != nil {
			status, message := g.response(err)
			writeJSONError(w, status, message, g.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueHandler hands out the value a client must echo in X-CSRF-Token.
func (g *Guard) IssueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.issueLimiter.Allow(clientIP(c.Request, g.trustedProxies)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		tok, err := g.strategy.Issue(c.Writer, c.Request)
		if err != nil {
			if errors.Is(err, ErrMissingSessionToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": g.Message(err)})
				return
			}
			g.logger.Error("csrf token issuance failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		tokensIssuedTotal.WithLabelValues(g.strategy.Name()).Inc()
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, gin.H{"token": tok})
	}
}

// ClearCookie expires the CSRF cookie, typically on logout.
func (g *Guard) ClearCookie(w http.ResponseWriter) {
	g.cookies.clear(w)
}

func writeJSONError(w http.ResponseWriter, status int, message string, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logger.Error("failed to encode error response", zap.Error(err))
	}
}
