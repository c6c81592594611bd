package types

import "time"

type SessionData struct {
	UserID       string                 `json:"user_id"`
	CreatedAt    time.Time              `json:"created_at"`
	LastActivity time.Time              `json:"last_activity"`
	IP           string                 `json:"ip"`
	Data         map[string]interface{} `json:"data,omitempty"`
	CSRFToken    string                 `json:"csrf_token"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}
