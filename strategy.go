package csrfguard

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/minus-twelve/csrfguard/token"
	"github.com/minus-twelve/csrfguard/types"
)

// Strategy decides whether a state-changing request carries a valid CSRF
// token, and issues the value a client must echo. A deployment uses exactly
// one strategy.
type Strategy interface {
	Name() string
	Validate(w http.ResponseWriter, r *http.Request) error
	Issue(w http.ResponseWriter, r *http.Request) (string, error)
}

// DoubleSubmit compares the header token with the csrf-token cookie. No
// server-side state is kept.
type DoubleSubmit struct {
	cookies cookieWriter
}

func NewDoubleSubmit(cookie types.CookieConfig) (*DoubleSubmit, error) {
	cookies, err := newCookieWriter(cookie)
	if err != nil {
		return nil, err
	}
	return &DoubleSubmit{cookies: cookies}, nil
}

func (s *DoubleSubmit) Name() string { return StrategyDoubleSubmit }

func (s *DoubleSubmit) Validate(_ http.ResponseWriter, r *http.Request) error {
	headerToken := r.Header.Get(token.HeaderName)
	if headerToken == "" {
		return ErrMissingHeaderToken
	}
	cookie := cookieToken(r)
	if cookie == "" {
		return ErrMissingCookieToken
	}
	if !token.Equal(headerToken, cookie) {
		return ErrTokenMismatch
	}
	// checked even when both halves agree
	if !token.Valid(headerToken) {
		return ErrInvalidTokenFormat
	}
	return nil
}

func (s *DoubleSubmit) Issue(w http.ResponseWriter, _ *http.Request) (string, error) {
	tok, err := token.Generate()
	if err != nil {
		return "", err
	}
	s.cookies.set(w, tok)
	return tok, nil
}

// Signed expects the header to carry "token.signature", the signature being
// the HMAC-SHA256 of the cookie token under a server secret.
type Signed struct {
	secret  []byte
	cookies cookieWriter
}

func NewSigned(secret []byte, cookie types.CookieConfig) (*Signed, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	cookies, err := newCookieWriter(cookie)
	if err != nil {
		return nil, err
	}
	return &Signed{secret: secret, cookies: cookies}, nil
}

func (s *Signed) Name() string { return StrategySigned }

func (s *Signed) Validate(_ http.ResponseWriter, r *http.Request) error {
	headerValue := r.Header.Get(token.HeaderName)
	if headerValue == "" {
		return ErrMissingHeaderToken
	}
	cookie := cookieToken(r)
	if cookie == "" {
		return ErrMissingCookieToken
	}

	tok, sig, ok := token.SplitSigned(headerValue)
	if !ok || !token.VerifySignature(s.secret, cookie, sig) {
		return ErrSignatureInvalid
	}
	if !token.Equal(tok, cookie) {
		return ErrTokenMismatch
	}
	if !token.Valid(tok) {
		return ErrInvalidTokenFormat
	}
	return nil
}

func (s *Signed) Issue(w http.ResponseWriter, _ *http.Request) (string, error) {
	tok, err := token.Generate()
	if err != nil {
		return "", err
	}
	s.cookies.set(w, tok)
	return token.SignedValue(s.secret, tok), nil
}

// SessionBound compares the header token with the token held in the
// server-side session. With rotation enabled every accepted request swaps
// the session token and returns the new one in the X-CSRF-Token response
// header; of several concurrent requests with the same token only one wins.
type SessionBound struct {
	sessions *SessionManager
	rotate   bool
}

func NewSessionBound(sessions *SessionManager, rotate bool) *SessionBound {
	return &SessionBound{sessions: sessions, rotate: rotate}
}

func (s *SessionBound) Name() string { return StrategySession }

func (s *SessionBound) Validate(w http.ResponseWriter, r *http.Request) error {
	headerToken := r.Header.Get(token.HeaderName)
	if headerToken == "" {
		return ErrMissingHeaderToken
	}

	sessionToken, ok := s.sessions.SessionToken(r)
	if !ok {
		return ErrMissingSessionToken
	}
	session, ok := s.sessions.GetSession(r.Context(), sessionToken)
	if !ok || session.CSRFToken == "" {
		return ErrMissingSessionToken
	}

	if !token.Equal(headerToken, session.CSRFToken) {
		return ErrTokenMismatch
	}
	if !token.Valid(headerToken) {
		return ErrInvalidTokenFormat
	}

	if !s.rotate {
		return nil
	}

	next, err := s.sessions.RotateCSRFToken(r.Context(), sessionToken, headerToken)
	switch {
	case errors.Is(err, types.ErrCSRFTokenStale):
		rotationsTotal.WithLabelValues("stale").Inc()
		return ErrTokenMismatch
	case errors.Is(err, types.ErrSessionNotFound):
		return ErrMissingSessionToken
	case err != nil:
		rotationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("rotate csrf token: %w", err)
	}
	rotationsTotal.WithLabelValues("rotated").Inc()
	w.Header().Set(token.HeaderName, next)
	return nil
}

func (s *SessionBound) Issue(_ http.ResponseWriter, r *http.Request) (string, error) {
	sessionToken, ok := s.sessions.SessionToken(r)
	if !ok {
		return "", ErrMissingSessionToken
	}
	session, ok := s.sessions.GetSession(r.Context(), sessionToken)
	if !ok || session.CSRFToken == "" {
		return "", ErrMissingSessionToken
	}
	return session.CSRFToken, nil
}
