package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RelayConfig holds relay server configuration.
type RelayConfig struct {
	Addr            string        `json:"addr"`
	JWTSecret       string        `json:"-"`
	TokenTTL        time.Duration `json:"token_ttl"`
	MaxConnections  int           `json:"max_connections"`
	PingInterval    time.Duration `json:"ping_interval"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ReadBufferSize  int           `json:"read_buffer_size"`
	WriteBufferSize int           `json:"write_buffer_size"`
	// MaxMessageSize bounds one inbound frame. It must exceed an encoded
	// 64 KiB chunk.
	MaxMessageSize int64 `json:"max_message_size"`
	EchoChat       bool  `json:"echo_chat"`
	// UserStore is "memory" or "redis".
	UserStore    string `json:"user_store"`
	SeedUser     string `json:"seed_user"`
	SeedPassword string `json:"-"`
	CookieSecure bool   `json:"cookie_secure"`
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() *RelayConfig {
	return &RelayConfig{
		Addr:            ":3000",
		JWTSecret:       "dev_secret_change_me",
		TokenTTL:        2 * time.Hour,
		MaxConnections:  1000,
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		MaxMessageSize:  1 << 20,
		UserStore:       "memory",
	}
}

// FromEnv loads configuration from environment variables. Missing or
// malformed values keep their defaults.
func FromEnv() *RelayConfig {
	cfg := DefaultConfig()

	if v := os.Getenv("RELAY_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	duration(&cfg.TokenTTL, "TOKEN_TTL")
	duration(&cfg.PingInterval, "PING_INTERVAL")
	duration(&cfg.WriteTimeout, "WRITE_TIMEOUT")
	integer(&cfg.MaxConnections, "MAX_CONNECTIONS")
	integer(&cfg.ReadBufferSize, "READ_BUFFER_SIZE")
	integer(&cfg.WriteBufferSize, "WRITE_BUFFER_SIZE")
	if v := os.Getenv("MAX_MESSAGE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxMessageSize = n
		}
	}
	boolean(&cfg.EchoChat, "ECHO_CHAT")
	boolean(&cfg.CookieSecure, "COOKIE_SECURE")
	if v := strings.ToLower(os.Getenv("USER_STORE")); v == "memory" || v == "redis" {
		cfg.UserStore = v
	}
	cfg.SeedUser = os.Getenv("SEED_USER")
	cfg.SeedPassword = os.Getenv("SEED_PASSWORD")
	return cfg
}

func duration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

func integer(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func boolean(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
