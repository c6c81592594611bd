// Package client is an HTTP client that attaches the CSRF token to every
// state-changing request and keeps the cookie half of the pair in its jar.
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minus-twelve/csrfguard/token"
	"go.uber.org/zap"
)

const (
	DefaultIssuePath = "/api/csrf-token"
	defaultTimeout   = 30 * time.Second
)

type Config struct {
	BaseURL string
	// HTTPClient is copied; a jar is attached when it has none.
	HTTPClient *http.Client
	// CSRF holds the token echoed in X-CSRF-Token. Defaults to a MemoryStore.
	CSRF TokenStore
	// Auth holds an optional bearer token.
	Auth TokenStore
	// Random is the token entropy source. Defaults to crypto/rand.
	Random    io.Reader
	IssuePath string
	Logger    *zap.Logger
}

type Client struct {
	baseURL   *url.URL
	http      *http.Client
	csrf      TokenStore
	auth      TokenStore
	random    io.Reader
	issuePath string
	logger    *zap.Logger
	mutex     sync.Mutex
}

// StatusError is returned by the JSON helpers for responses >= 400.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	httpClient := &http.Client{Timeout: defaultTimeout}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		httpClient = &copied
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	c := &Client{
		baseURL:   base,
		http:      httpClient,
		csrf:      cfg.CSRF,
		auth:      cfg.Auth,
		random:    cfg.Random,
		issuePath: cfg.IssuePath,
		logger:    cfg.Logger,
	}
	if c.csrf == nil {
		c.csrf = NewMemoryStore()
	}
	if c.random == nil {
		c.random = rand.Reader
	}
	if c.issuePath == "" {
		c.issuePath = DefaultIssuePath
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Initialize returns the stored token, or generates and stores a new one. The
// token is mirrored into the cookie jar when the jar has no CSRF cookie.
func (c *Client) Initialize() (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	tok, ok, err := c.csrf.Get()
	if err != nil {
		return "", fmt.Errorf("load csrf token: %w", err)
	}
	if ok && tok != "" {
		c.restoreCookieLocked(tok)
		return tok, nil
	}
	return c.generateLocked()
}

// restoreCookieLocked puts a stored raw token back into an empty jar, e.g.
// when the token store outlives the process. Signed values are issued by the
// server together with their cookie and are left alone.
func (c *Client) restoreCookieLocked(tok string) {
	if !token.Valid(tok) {
		return
	}
	for _, cookie := range c.http.Jar.Cookies(c.baseURL) {
		if cookie.Name == token.CookieName {
			return
		}
	}
	c.setCookie(&http.Cookie{Name: token.CookieName, Value: tok, Path: "/"})
}

func (c *Client) Get() (string, bool) {
	tok, ok, err := c.csrf.Get()
	if err != nil {
		c.logger.Warn("failed to load csrf token", zap.Error(err))
		return "", false
	}
	return tok, ok && tok != ""
}

// Refresh replaces the stored token with a new locally generated one. Use
// Fetch instead when the server issues tokens.
func (c *Client) Refresh() (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.generateLocked()
}

func (c *Client) generateLocked() (string, error) {
	tok, err := token.GenerateFrom(c.random)
	if err != nil {
		return "", err
	}
	if err := c.csrf.Set(tok); err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	c.setCookie(&http.Cookie{Name: token.CookieName, Value: tok, Path: "/"})
	c.logger.Debug("csrf token generated", zap.String("token", token.Prefix(tok)))
	return tok, nil
}

// Clear removes the stored token and its cookie.
func (c *Client) Clear() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.csrf.Clear(); err != nil {
		return fmt.Errorf("clear csrf token: %w", err)
	}
	c.setCookie(&http.Cookie{Name: token.CookieName, Path: "/", MaxAge: -1})
	return nil
}

func (c *Client) setCookie(cookie *http.Cookie) {
	c.http.Jar.SetCookies(c.baseURL, []*http.Cookie{cookie})
}

// Fetch asks the server for a token. The server sets the cookie itself.
func (c *Client) Fetch(ctx context.Context) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.send(ctx, http.MethodGet, c.issuePath, nil, &body); err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	if body.Token == "" {
		return "", errors.New("fetch csrf token: empty token in response")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := c.csrf.Set(body.Token); err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	return body.Token, nil
}

// Do sends req. Requests with a method outside token.SafeMethods carry the
// CSRF token; when no token can be produced the request is not sent.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !token.IsSafeMethod(req.Method) {
		tok, err := c.Initialize()
		if err != nil {
			return nil, err
		}
		req.Header.Set(token.HeaderName, tok)
	}

	if req.Body != nil && req.Body != http.NoBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.auth != nil {
		if bearer, ok, err := c.auth.Get(); err != nil {
			c.logger.Warn("failed to load auth token", zap.Error(err))
		} else if ok && bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if rotated := resp.Header.Get(token.HeaderName); rotated != "" {
		c.mutex.Lock()
		if err := c.csrf.Set(rotated); err != nil {
			c.logger.Warn("failed to store rotated csrf token", zap.Error(err))
		}
		c.mutex.Unlock()
	}

	if resp.StatusCode == http.StatusUnauthorized && c.auth != nil {
		if err := c.auth.Clear(); err != nil {
			c.logger.Warn("failed to clear auth token", zap.Error(err))
		}
	}
	return resp, nil
}

// SetAuthToken stores the bearer token sent with every request.
func (c *Client) SetAuthToken(bearer string) error {
	if c.auth == nil {
		return errors.New("no auth token store configured")
	}
	return c.auth.Set(bearer)
}

func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.send(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.send(ctx, http.MethodPost, path, in, out)
}

func (c *Client) PutJSON(ctx context.Context, path string, in, out any) error {
	return c.send(ctx, http.MethodPut, path, in, out)
}

func (c *Client) PatchJSON(ctx context.Context, path string, in, out any) error {
	return c.send(ctx, http.MethodPatch, path, in, out)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.send(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("parse path: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(ref).String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		message = body.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: message}
}
