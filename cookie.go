package csrfguard

import (
	"net/http"
	"time"

	"github.com/minus-twelve/csrfguard/token"
	"github.com/minus-twelve/csrfguard/types"
)

// cookieWriter writes the CSRF cookie. The cookie is never HttpOnly: the
// client has to read its half of the pair.
type cookieWriter struct {
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite
	maxAge   time.Duration
}

func newCookieWriter(cfg types.CookieConfig) (cookieWriter, error) {
	sameSite, err := parseSameSite(cfg.SameSite)
	if err != nil {
		return cookieWriter{}, err
	}
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	return cookieWriter{
		path:     path,
		domain:   cfg.Domain,
		secure:   cfg.Secure,
		sameSite: sameSite,
		maxAge:   cfg.MaxAge,
	}, nil
}

func (cw cookieWriter) set(w http.ResponseWriter, value string) {
	c := &http.Cookie{
		Name:     token.CookieName,
		Value:    value,
		Path:     cw.path,
		Domain:   cw.domain,
		Secure:   cw.secure,
		SameSite: cw.sameSite,
	}
	if cw.maxAge > 0 {
		c.MaxAge = int(cw.maxAge.Seconds())
		c.Expires = time.Now().Add(cw.maxAge)
	}
	http.SetCookie(w, c)
}

func (cw cookieWriter) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     token.CookieName,
		Value:    "",
		Path:     cw.path,
		Domain:   cw.domain,
		Secure:   cw.secure,
		SameSite: cw.sameSite,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

func cookieToken(r *http.Request) string {
	c, err := r.Cookie(token.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
