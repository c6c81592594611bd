package types

import "time"

type Config struct {
	Env       string `yaml:"env"`
	Addr      string `yaml:"addr"`
	StoreType string `yaml:"store_type"`
	Memory    struct {
		MaxSessions int `yaml:"max_sessions"`
	} `yaml:"memory"`
	Redis    RedisConfig    `yaml:"redis"`
	Session  SessionConfig  `yaml:"session"`
	Security SecurityConfig `yaml:"security"`
	CSRF     CSRFConfig     `yaml:"csrf"`
}

type SessionConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	CookieName   string        `yaml:"cookie_name"`
	SecureCookie bool          `yaml:"secure_cookie"`
	BindIP       bool          `yaml:"bind_ip"`
}

type SecurityConfig struct {
	RateLimit      Rate     `yaml:"rate_limit"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type Rate struct {
	Period time.Duration `yaml:"period"`
	Limit  int           `yaml:"limit"`
}

// CSRFConfig selects exactly one validation strategy for a deployment.
type CSRFConfig struct {
	Strategy     string       `yaml:"strategy"`
	Secret       string       `yaml:"secret"`
	Rotate       bool         `yaml:"rotate"`
	PublicRoutes []string     `yaml:"public_routes"`
	Cookie       CookieConfig `yaml:"cookie"`
}

type CookieConfig struct {
	Path     string        `yaml:"path"`
	Domain   string        `yaml:"domain"`
	Secure   bool          `yaml:"secure"`
	SameSite string        `yaml:"same_site"`
	MaxAge   time.Duration `yaml:"max_age"`
}
