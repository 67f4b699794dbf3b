package app

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/dupewatch/pkg/constants"
	"github.com/agentstation/dupewatch/pkg/errors"
)

// envPrefix namespaces every environment variable read through viper.
const envPrefix = "DUPEWATCH"

// Config holds the application configuration loaded from various sources
// including config files, environment variables, and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	Catalog   CatalogConfig
	Reconcile ReconcileConfig
	Server    ServerConfig
	Webhook   WebhookConfig
	Sentry    SentryConfig

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// CatalogConfig holds the remote catalog connection settings.
type CatalogConfig struct {
	URL         string
	Token       string
	Username    string
	Password    string
	Timeout     time.Duration
	SearchLimit int
}

// ReconcileConfig holds reconciler defaults.
type ReconcileConfig struct {
	WaitForRelations    bool
	RelationConcurrency int
	CallTimeout         time.Duration
}

// ServerConfig holds webhook server settings. Command flags override them.
type ServerConfig struct {
	Host       string
	Port       int
	PathPrefix string
	CORSOrigin []string
	APIKey     string
	RateLimit  int
	Metrics    bool
}

// WebhookConfig holds webhook intake settings.
type WebhookConfig struct {
	Secret       string
	Mode         string
	DedupeWindow time.Duration
}

// SentryConfig holds error reporting settings. Reporting is off without a DSN.
type SentryConfig struct {
	DSN         string
	Environment string
	SampleRate  float64
}

// LoadConfig loads configuration from all sources in order of precedence:
// 1. Command-line flags (handled by cobra)
// 2. Environment variables
// 3. .env files
// 4. Config file (--config, or ~/.dupewatch.yaml)
// 5. Defaults
func LoadConfig(configFile string) (*Config, error) {
	// Load .env files first (before Viper env binding)
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := bindLegacyEnv(v); err != nil {
		return nil, errors.NewConfigError("env", "failed to bind environment", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		// Search for config in standard locations
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".dupewatch")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit file must exist; the search locations are optional
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.NewConfigError("config", "failed to read "+configFile, err)
		}
	}

	config := &Config{
		Verbose: v.GetBool("verbose"),
		Quiet:   v.GetBool("quiet"),
		NoColor: v.GetBool("no_color"),
		Format:  v.GetString("format"),

		ConfigFile: v.ConfigFileUsed(),

		Catalog: CatalogConfig{
			URL:         v.GetString("catalog.url"),
			Token:       v.GetString("catalog.token"),
			Username:    v.GetString("catalog.username"),
			Password:    v.GetString("catalog.password"),
			Timeout:     v.GetDuration("catalog.timeout"),
			SearchLimit: v.GetInt("catalog.search_limit"),
		},
		Reconcile: ReconcileConfig{
			WaitForRelations:    v.GetBool("reconcile.wait_for_relations"),
			RelationConcurrency: v.GetInt("reconcile.relation_concurrency"),
			CallTimeout:         v.GetDuration("reconcile.call_timeout"),
		},
		Server: ServerConfig{
			Host:       v.GetString("server.host"),
			Port:       v.GetInt("server.port"),
			PathPrefix: v.GetString("server.prefix"),
			CORSOrigin: v.GetStringSlice("server.cors_origin"),
			APIKey:     v.GetString("server.api_key"),
			RateLimit:  v.GetInt("server.rate_limit"),
			Metrics:    v.GetBool("server.metrics"),
		},
		Webhook: WebhookConfig{
			Secret:       v.GetString("webhook.secret"),
			Mode:         v.GetString("webhook.mode"),
			DedupeWindow: v.GetDuration("webhook.dedupe_window"),
		},
		Sentry: SentryConfig{
			DSN:         v.GetString("sentry.dsn"),
			Environment: v.GetString("sentry.environment"),
			SampleRate:  v.GetFloat64("sentry.sample_rate"),
		},

		// Logging configuration
		LogLevel:  getEnvOrDefault("LOG_LEVEL", ""),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput: getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("verbose", false)
	v.SetDefault("quiet", false)
	v.SetDefault("no_color", false)
	v.SetDefault("format", "")

	v.SetDefault("catalog.url", "")
	v.SetDefault("catalog.token", "")
	v.SetDefault("catalog.username", "")
	v.SetDefault("catalog.password", "")
	v.SetDefault("catalog.timeout", constants.DefaultHTTPTimeout)
	v.SetDefault("catalog.search_limit", constants.DefaultSearchLimit)

	v.SetDefault("reconcile.wait_for_relations", true)
	v.SetDefault("reconcile.relation_concurrency", constants.MaxRelationConcurrency)
	v.SetDefault("reconcile.call_timeout", constants.CatalogCallTimeout)

	v.SetDefault("server.host", constants.DefaultHost)
	v.SetDefault("server.port", constants.DefaultHTTPPort)
	v.SetDefault("server.prefix", constants.DefaultPathPrefix)
	v.SetDefault("server.cors_origin", []string{constants.DefaultCORSOrigin})
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.metrics", true)

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.mode", "async")
	v.SetDefault("webhook.dedupe_window", time.Duration(0))

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")
	v.SetDefault("sentry.sample_rate", 1.0)
}

// bindLegacyEnv keeps the unprefixed variables earlier deployments used.
func bindLegacyEnv(v *viper.Viper) error {
	return errors.Join(
		v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "HTTP_PORT"),
		v.BindEnv("server.cors_origin", envPrefix+"_SERVER_CORS_ORIGIN", "CORS_HEADER"),
		v.BindEnv("sentry.dsn", envPrefix+"_SENTRY_DSN", "SENTRY_DSN"),
	)
}

// Validate checks values that cannot be corrected later.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.NewValidationError("server.port", c.Server.Port, "must be between 0 and 65535")
	}
	if c.Reconcile.RelationConcurrency < 1 {
		return errors.NewValidationError("reconcile.relation_concurrency", c.Reconcile.RelationConcurrency, "must be at least 1")
	}
	if c.Reconcile.CallTimeout <= 0 {
		return errors.NewValidationError("reconcile.call_timeout", c.Reconcile.CallTimeout, "must be positive")
	}
	if c.Webhook.DedupeWindow < 0 {
		return errors.NewValidationError("webhook.dedupe_window", c.Webhook.DedupeWindow, "cannot be negative")
	}
	return nil
}

// UpdateFromFlags updates config values from parsed command flags.
// This should be called after cobra parses flags to ensure flag
// values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = c.Verbose || verbose
	c.Quiet = c.Quiet || quiet
	c.NoColor = c.NoColor || noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// loadEnvFiles loads environment variables from .env files.
// Variables already set in the environment are never overwritten, so
// .env.local only fills what .env left unset.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
