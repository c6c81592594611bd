package csrfguard

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/minus-twelve/csrfguard/types"
	"gopkg.in/yaml.v3"
)

const (
	StrategyDoubleSubmit = "double_submit"
	StrategySession      = "session"
	StrategySigned       = "signed"

	EnvProduction = "production"
)

// DefaultPublicRoutes are the authentication endpoints exempt from the check.
var DefaultPublicRoutes = []string{
	"/api/auth/local",
	"/api/auth/local/register",
	"/api/auth/callback",
	"/api/csrf-token",
}

func DefaultConfig() types.Config {
	cfg := types.Config{
		Env:       "development",
		Addr:      ":8080",
		StoreType: "memory",
	}
	cfg.Memory.MaxSessions = 1000
	cfg.Redis = types.RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "sess:",
		TTL:    24 * time.Hour,
	}
	cfg.Session = types.SessionConfig{
		TTL:        24 * time.Hour,
		CookieName: "session_id",
	}
	cfg.Security = types.SecurityConfig{
		RateLimit: types.Rate{Period: time.Minute, Limit: 60},
	}
	cfg.CSRF = types.CSRFConfig{
		Strategy:     StrategyDoubleSubmit,
		PublicRoutes: append([]string(nil), DefaultPublicRoutes...),
		Cookie: types.CookieConfig{
			Path:     "/",
			SameSite: "Lax",
			MaxAge:   24 * time.Hour,
		},
	}
	return cfg
}

// LoadConfig reads a YAML file over DefaultConfig and validates it.
func LoadConfig(path string) (types.Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return types.Config{}, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

// ReadConfig decodes a YAML file over DefaultConfig without validating it, for
// callers that apply further overrides first.
func ReadConfig(path string) (types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Config{}, fmt.Errorf("read config: %w", err)
	}
	return DecodeConfig(data)
}

func ParseConfig(data []byte) (types.Config, error) {
	cfg, err := DecodeConfig(data)
	if err != nil {
		return types.Config{}, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

func DecodeConfig(data []byte) (types.Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return types.Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func ValidateConfig(cfg types.Config) error {
	switch cfg.StoreType {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid store type %q", cfg.StoreType)
	}

	switch cfg.CSRF.Strategy {
	case StrategyDoubleSubmit, StrategySession:
	case StrategySigned:
		if cfg.CSRF.Secret == "" {
			return ErrMissingSecret
		}
	default:
		return fmt.Errorf("invalid csrf strategy %q", cfg.CSRF.Strategy)
	}

	if _, err := parseSameSite(cfg.CSRF.Cookie.SameSite); err != nil {
		return err
	}
	if cfg.Session.CookieName == "" {
		return errors.New("session cookie name is required")
	}
	return nil
}

func IsProduction(cfg types.Config) bool {
	return strings.EqualFold(cfg.Env, EnvProduction)
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(v) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("invalid same_site value %q", v)
	}
}
