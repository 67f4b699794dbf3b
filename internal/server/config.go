package server

import (
	"net"
	"strconv"
	"time"

	"github.com/agentstation/dupewatch/internal/webhook"
	"github.com/agentstation/dupewatch/pkg/constants"
)

// Config holds server configuration.
type Config struct {
	// Server settings
	Host string
	Port int

	// Non-root routes are mounted under PathPrefix
	PathPrefix string

	// CORS origins; a single entry is sent as-is
	CORSOrigins []string

	// Authentication settings
	AuthEnabled bool
	APIKey      string
	AuthHeader  string

	// Requests per minute per client address (0 to disable)
	RateLimit int

	// HTTP timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Webhook settings
	WebhookMode   webhook.Mode
	WebhookSecret string
	DedupeWindow  time.Duration

	// Features
	MetricsEnabled bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:            constants.DefaultHost,
		Port:            constants.DefaultHTTPPort,
		PathPrefix:      constants.DefaultPathPrefix,
		CORSOrigins:     []string{constants.DefaultCORSOrigin},
		AuthHeader:      "X-API-Key",
		RateLimit:       0,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: constants.ShutdownTimeout,
		WebhookMode:     webhook.ModeAsync,
		MetricsEnabled:  true,
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
