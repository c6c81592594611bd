package csrfguard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/minus-twelve/csrfguard/token"
	"github.com/minus-twelve/csrfguard/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newDoubleSubmitGuard(t *testing.T, mutate func(*types.Config)) *Guard {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	strategy, err := NewDoubleSubmit(cfg.CSRF.Cookie)
	require.NoError(t, err)
	guard, err := New(strategy, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return guard
}

func newRouter(guard *Guard) *gin.Engine {
	r := gin.New()
	r.Use(guard.Middleware())
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	for _, m := range []string{"GET", "HEAD", "OPTIONS", "TRACE", "POST", "PUT", "PATCH", "DELETE"} {
		r.Handle(m, "/api/orders", ok)
		r.Handle(m, "/api/auth/local", ok)
	}
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, header, cookie string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if header != "" {
		req.Header.Set(token.HeaderName, header)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: token.CookieName, Value: cookie})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func mustToken(t *testing.T) string {
	t.Helper()
	tok, err := token.Generate()
	require.NoError(t, err)
	return tok
}

func TestGuard_SafeMethodsAlwaysPass(t *testing.T) {
	router := newRouter(newDoubleSubmitGuard(t, nil))
	t1, t2 := mustToken(t), mustToken(t)

	states := []struct{ header, cookie string }{
		{"", ""},
		{t1, ""},
		{"", t1},
		{t1, t2},
		{"not-hex", "not-hex"},
	}
	for _, m := range token.SafeMethods {
		for _, s := range states {
			rec := doRequest(t, router, m, "/api/orders", s.header, s.cookie)
			assert.Equal(t, http.StatusOK, rec.Code, "%s with header=%q cookie=%q", m, s.header, s.cookie)
		}
	}
}

func TestGuard_DoubleSubmitScenarios(t *testing.T) {
	router := newRouter(newDoubleSubmitGuard(t, nil))
	t1, t2 := mustToken(t), mustToken(t)

	tests := []struct {
		name    string
		method  string
		header  string
		cookie  string
		status  int
		message string
	}{
		{"matching tokens", "POST", t1, t1, http.StatusOK, ""},
		{"matching tokens on delete", "DELETE", t1, t1, http.StatusOK, ""},
		{"missing header", "POST", "", t1, http.StatusForbidden, ErrMissingHeaderToken.Error()},
		{"missing cookie", "POST", t1, "", http.StatusForbidden, "CSRF Token missing in cookie (csrf-token)"},
		{"both missing", "PUT", "", "", http.StatusForbidden, ErrMissingHeaderToken.Error()},
		{"mismatch", "PATCH", t1, t2, http.StatusForbidden, "CSRF Token validation failed (token mismatch)"},
		{"equal but not hex", "POST", "not-hex", "not-hex", http.StatusForbidden, "CSRF Token invalid format"},
		{"equal uppercase hex", "POST", strings.ToUpper(t1), strings.ToUpper(t1), http.StatusForbidden, ErrInvalidTokenFormat.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, tt.method, "/api/orders", tt.header, tt.cookie)
			assert.Equal(t, tt.status, rec.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, errorMessage(t, rec))
			}
		})
	}
}

func TestGuard_PublicRoutesBypass(t *testing.T) {
	router := newRouter(newDoubleSubmitGuard(t, nil))

	rec := doRequest(t, router, "POST", "/api/auth/local", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, "POST", "/api/orders", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuard_ProductionHidesCause(t *testing.T) {
	guard := newDoubleSubmitGuard(t, func(cfg *types.Config) { cfg.Env = "production" })
	router := newRouter(guard)

	rec := doRequest(t, router, "POST", "/api/orders", mustToken(t), mustToken(t))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, GenericMessage, errorMessage(t, rec))
}

func TestGuard_NetHTTPHandler(t *testing.T) {
	guard := newDoubleSubmitGuard(t, nil)
	h := guard.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	tok := mustToken(t)

	rec := doRequest(t, h, "POST", "/cart", tok, tok)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, "POST", "/cart", tok, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, ErrMissingCookieToken.Error(), errorMessage(t, rec))
}

func TestGuard_CountsDecisions(t *testing.T) {
	router := newRouter(newDoubleSubmitGuard(t, nil))
	mismatch := decisionsTotal.WithLabelValues(StrategyDoubleSubmit, "mismatch")
	before := testutil.ToFloat64(mismatch)

	doRequest(t, router, "POST", "/api/orders", mustToken(t), mustToken(t))

	assert.Equal(t, before+1, testutil.ToFloat64(mismatch))
}

func TestGuard_IssueHandler_DoubleSubmit(t *testing.T) {
	guard := newDoubleSubmitGuard(t, nil)
	r := gin.New()
	r.GET("/api/csrf-token", guard.IssueHandler())

	rec := doRequest(t, r, "GET", "/api/csrf-token", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, token.Valid(body["token"]))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, token.CookieName, cookies[0].Name)
	assert.Equal(t, body["token"], cookies[0].Value)
	assert.False(t, cookies[0].HttpOnly)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	// the issued pair is accepted
	router := newRouter(guard)
	rec = doRequest(t, router, "POST", "/api/orders", body["token"], cookies[0].Value)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuard_IssueHandler_RateLimited(t *testing.T) {
	guard := newDoubleSubmitGuard(t, func(cfg *types.Config) {
		cfg.Security.RateLimit = types.Rate{Period: 1 << 40, Limit: 2}
	})
	r := gin.New()
	r.GET("/api/csrf-token", guard.IssueHandler())

	assert.Equal(t, http.StatusOK, doRequest(t, r, "GET", "/api/csrf-token", "", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, r, "GET", "/api/csrf-token", "", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, r, "GET", "/api/csrf-token", "", "").Code)
}

func TestGuard_ClearCookie(t *testing.T) {
	guard := newDoubleSubmitGuard(t, nil)
	rec := httptest.NewRecorder()
	guard.ClearCookie(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, token.CookieName, cookies[0].Name)
	assert.Equal(t, "", cookies[0].Value)
	assert.True(t, cookies[0].MaxAge < 0)
}

func TestNew_RequiresStrategy(t *testing.T) {
	_, err := New(nil, DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "missing_header", Reason(ErrMissingHeaderToken))
	assert.Equal(t, "mismatch", Reason(ErrTokenMismatch))
	assert.Equal(t, "invalid_signature", Reason(ErrSignatureInvalid))
	assert.Equal(t, "error", Reason(assert.AnError))
}
