package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the chat client daemon.
type Config struct {
	// Local view API
	ListenAddr     string   `env:"CHAT_LISTEN_ADDR" envDefault:":8082"`
	AllowedOrigins []string `env:"CHAT_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string   `env:"LOG_FORMAT" envDefault:"console"`

	// Remote platform
	APIBaseURL     string        `env:"CHAT_API_URL" envDefault:"http://localhost:5001/api"`
	WSURL          string        `env:"CHAT_WS_URL" envDefault:"ws://localhost:5001/ws"`
	RequestTimeout time.Duration `env:"CHAT_REQUEST_TIMEOUT" envDefault:"0s"` // 0 leaves the transport default

	// Live connection
	MaxReconnectAttempts int           `env:"CHAT_MAX_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectDelay       time.Duration `env:"CHAT_RECONNECT_DELAY" envDefault:"3s"`
	PingInterval         time.Duration `env:"CHAT_PING_INTERVAL" envDefault:"30s"`
	WriteTimeout         time.Duration `env:"CHAT_WRITE_TIMEOUT" envDefault:"10s"`

	// Chat state
	PageSize             int           `env:"CHAT_PAGE_SIZE" envDefault:"50"`
	TypingIdle           time.Duration `env:"CHAT_TYPING_IDLE" envDefault:"3s"`
	TypingInboundTTL     time.Duration `env:"CHAT_TYPING_INBOUND_TTL" envDefault:"6s"`
	UnreadResyncInterval time.Duration `env:"CHAT_UNREAD_RESYNC_INTERVAL" envDefault:"60s"`

	// Optional MySQL snapshot cache; empty disables it
	CacheDSN string `env:"CHAT_CACHE_DSN"`
}

// Load reads an optional .env file and parses the environment into Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that env parsing cannot.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.APIBaseURL); err != nil {
		return fmt.Errorf("CHAT_API_URL is invalid: %w", err)
	}
	u, err := url.Parse(c.WSURL)
	if err != nil {
		return fmt.Errorf("CHAT_WS_URL is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("CHAT_WS_URL must use ws or wss, got %q", u.Scheme)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("CHAT_MAX_RECONNECT_ATTEMPTS must not be negative")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("CHAT_PAGE_SIZE must be positive")
	}
	if c.TypingIdle <= 0 {
		return fmt.Errorf("CHAT_TYPING_IDLE must be positive")
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	return nil
}
