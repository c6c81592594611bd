package csrfguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minus-twelve/csrfguard/storage"
	"github.com/minus-twelve/csrfguard/token"
	"github.com/minus-twelve/csrfguard/types"
	"go.uber.org/zap"
)

const sessionContextKey = "csrfguard.session"

type SessionManager struct {
	store          Store
	config         types.SessionConfig
	trustedProxies []net.IPNet
	logger         *zap.Logger
	shutdownChan   chan struct{}
	closeOnce      sync.Once
	wg             sync.WaitGroup
}

func NewManager(store Store, config types.SessionConfig, security types.SecurityConfig, logger *zap.Logger) *SessionManager {
	if store == nil {
		store = storage.NewMemoryStore(1000)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}

	manager := &SessionManager{
		store:          store,
		config:         config,
		trustedProxies: parseTrustedProxies(security.TrustedProxies),
		logger:         logger,
		shutdownChan:   make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.cleanupSessions()

	return manager
}

func parseTrustedProxies(proxies []string) []net.IPNet {
	trustedNetworks := make([]net.IPNet, 0, len(proxies))
	for _, proxy := range proxies {
		_, ipnet, err := net.ParseCIDR(proxy)
		if err != nil {
			ip := net.ParseIP(proxy)
			if ip == nil {
				continue
			}
			mask := net.IPv4Mask(255, 255, 255, 255)
			if ip.To4() == nil {
				mask = net.CIDRMask(128, 128)
			}
			ipnet = &net.IPNet{IP: ip, Mask: mask}
		}
		trustedNetworks = append(trustedNetworks, *ipnet)
	}
	return trustedNetworks
}

// Close stops the cleanup loop. It does not close the underlying store.
func (sm *SessionManager) Close() {
	sm.closeOnce.Do(func() {
		close(sm.shutdownChan)
	})
	sm.wg.Wait()
}

func (sm *SessionManager) cleanupSessions() {
	defer sm.wg.Done()

	interval := sm.config.TTL / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sm.store.Cleanup(context.Background(), sm.config.TTL); err != nil {
				sm.logger.Warn("session cleanup failed", zap.Error(err))
			}
		case <-sm.shutdownChan:
			return
		}
	}
}

// CreateSession stores a new session with its own CSRF token and returns the
// session token and the CSRF token.
func (sm *SessionManager) CreateSession(ctx context.Context, userID, ip string) (string, string, error) {
	sessionToken, err := token.Generate()
	if err != nil {
		return "", "", err
	}

	csrfToken, err := token.Generate()
	if err != nil {
		return "", "", err
	}

	now := time.Now()
	session := types.SessionData{
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		IP:           ip,
		Data:         make(map[string]interface{}),
		CSRFToken:    csrfToken,
	}

	if err := sm.store.Save(ctx, sessionToken, session); err != nil {
		return "", "", fmt.Errorf("save session: %w", err)
	}

	return sessionToken, csrfToken, nil
}

// RotateCSRFToken replaces the session's CSRF token if it still equals
// current. A concurrent rotation wins and surfaces as types.ErrCSRFTokenStale.
func (sm *SessionManager) RotateCSRFToken(ctx context.Context, sessionToken, current string) (string, error) {
	next, err := token.Generate()
	if err != nil {
		return "", err
	}
	if err := sm.store.SwapCSRFToken(ctx, sessionToken, current, next); err != nil {
		return "", err
	}
	return next, nil
}

func (sm *SessionManager) InvalidateAllSessions(ctx context.Context, userID string) error {
	tokens, err := sm.store.GetAllByUserID(ctx, userID)
	if err != nil {
		return err
	}

	for _, t := range tokens {
		if err := sm.store.Delete(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (sm *SessionManager) ValidateCSRFToken(ctx context.Context, sessionToken, csrfToken string) bool {
	session, exists := sm.GetSession(ctx, sessionToken)
	if !exists || session.CSRFToken == "" {
		return false
	}
	return token.Equal(session.CSRFToken, csrfToken)
}

func (sm *SessionManager) GetSession(ctx context.Context, sessionToken string) (types.SessionData, bool) {
	session, err := sm.store.Get(ctx, sessionToken)
	if err != nil {
		if !errors.Is(err, types.ErrSessionNotFound) {
			sm.logger.Warn("session lookup failed", zap.Error(err))
		}
		return types.SessionData{}, false
	}
	return session, true
}

// TouchSession records activity so the cleanup loop measures the TTL from the
// last request, not from creation.
func (sm *SessionManager) TouchSession(ctx context.Context, sessionToken string) error {
	return sm.store.Touch(ctx, sessionToken)
}

// SessionToken returns the session cookie value of r.
func (sm *SessionManager) SessionToken(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sm.config.CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

func (sm *SessionManager) GetClientIP(r *http.Request) string {
	return clientIP(r, sm.trustedProxies)
}

func clientIP(r *http.Request, trustedProxies []net.IPNet) string {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return ip
	}

	remote := net.ParseIP(ip)
	if remote == nil {
		return ip
	}
	for _, trusted := range trustedProxies {
		if trusted.Contains(remote) {
			if ips := splitIPs(forwarded); len(ips) > 0 && ips[0] != "" {
				return ips[0]
			}
		}
	}
	return ip
}

func splitIPs(forwarded string) []string {
	ips := strings.Split(forwarded, ",")
	for i := range ips {
		ips[i] = strings.TrimSpace(ips[i])
	}
	return ips
}

func (sm *SessionManager) IsLoggedIn(r *http.Request) bool {
	_, ok := sm.loggedInSession(r)
	return ok
}

func (sm *SessionManager) loggedInSession(r *http.Request) (types.SessionData, bool) {
	sessionToken, ok := sm.SessionToken(r)
	if !ok {
		return types.SessionData{}, false
	}

	session, exists := sm.GetSession(r.Context(), sessionToken)
	if !exists || session.UserID == "" {
		return types.SessionData{}, false
	}

	if sm.config.BindIP && session.IP != sm.GetClientIP(r) {
		return types.SessionData{}, false
	}
	return session, true
}

// AuthMiddleware rejects requests without a live session and stores the
// session in the gin context.
func (sm *SessionManager) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := sm.loggedInSession(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if sessionToken, ok := sm.SessionToken(c.Request); ok {
			if err := sm.TouchSession(c.Request.Context(), sessionToken); err != nil {
				sm.logger.Warn("failed to touch session", zap.Error(err))
			}
		}
		c.Set(sessionContextKey, session)
		c.Next()
	}
}

// SessionFromContext returns the session stored by AuthMiddleware.
func SessionFromContext(c *gin.Context) (types.SessionData, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return types.SessionData{}, false
	}
	session, ok := v.(types.SessionData)
	return session, ok
}

func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, sessionToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sm.config.CookieName,
		Value:    sessionToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.config.SecureCookie,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sm.config.TTL.Seconds()),
	})
}

func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sm.config.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.config.SecureCookie,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func (sm *SessionManager) DestroySession(ctx context.Context, sessionToken string) error {
	return sm.store.Delete(ctx, sessionToken)
}

func (sm *SessionManager) CookieName() string {
	return sm.config.CookieName
}

func (sm *SessionManager) SessionTTL() time.Duration {
	return sm.config.TTL
}
