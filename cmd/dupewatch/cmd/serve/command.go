// Package serve provides the webhook server command.
package serve

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/agentstation/dupewatch/cmd/application"
	"github.com/agentstation/dupewatch/internal/server"
	"github.com/agentstation/dupewatch/internal/webhook"
	"github.com/agentstation/dupewatch/pkg/errors"
)

// ConfigFunc returns the server configuration flags are layered on.
type ConfigFunc func() server.Config

// NewCommand creates the serve command. base supplies values from the
// config file and environment; only flags set on the command line
// override them.
func NewCommand(app application.Application, base ConfigFunc) *cobra.Command {
	defaults := server.DefaultConfig()

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		GroupID: "core",
		Short:   "Receive catalog change notifications and reconcile duplicates",
		Long: `Start the webhook server.

Point the catalog's asset-update webhook at the server root (or at
<prefix>/webhook). Every notification is acknowledged with 200 OK; when
the extracted checksum changed, the asset is reconciled against every
other asset carrying the same checksum.

Other endpoints:
  GET /health, <prefix>/health   liveness
  GET <prefix>/ready             catalog client configured
  GET /metrics                   Prometheus metrics`,
		Example: `  # Start on the default port 9090
  DUPEWATCH_CATALOG_URL=https://dam.example.com dupewatch serve

  # Reconcile before acknowledging, with a signed webhook
  DUPEWATCH_WEBHOOK_SECRET=s3cret dupewatch serve --sync

  # Ignore repeated notifications for 30s and limit each client to 120 req/min
  dupewatch serve --dedupe-window 30s --rate-limit 120`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := defaults
			if base != nil {
				cfg = base()
			}
			cfg, err := parseConfig(cmd.Flags(), cfg)
			if err != nil {
				return err
			}
			return run(cmd, app, cfg)
		},
	}

	// Server configuration flags
	cmd.Flags().Int("port", defaults.Port, "Server port (env HTTP_PORT)")
	cmd.Flags().String("host", defaults.Host, "Bind address")
	cmd.Flags().String("prefix", defaults.PathPrefix, "Path prefix for non-root routes")

	// CORS flags
	cmd.Flags().StringSlice("cors-origin", defaults.CORSOrigins, "Allowed CORS origins (env CORS_HEADER)")

	// Authentication flags
	cmd.Flags().Bool("auth", false, "Require an API key (DUPEWATCH_SERVER_API_KEY) on non-public routes")
	cmd.Flags().String("auth-header", defaults.AuthHeader, "Authentication header name")

	// Webhook flags
	cmd.Flags().Bool("sync", false, "Reconcile before acknowledging each notification")
	cmd.Flags().Duration("dedupe-window", 0, "Ignore repeats of the same asset and checksum within this window (0 to disable)")

	// Performance flags
	cmd.Flags().Int("rate-limit", defaults.RateLimit, "Requests per minute per client (0 to disable)")

	// Timeout flags
	cmd.Flags().Duration("read-timeout", defaults.ReadTimeout, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", defaults.WriteTimeout, "HTTP write timeout")
	cmd.Flags().Duration("idle-timeout", defaults.IdleTimeout, "HTTP idle timeout")
	cmd.Flags().Duration("shutdown-timeout", defaults.ShutdownTimeout, "Time allowed to drain in-flight reconciliations")

	// Features flags
	cmd.Flags().Bool("metrics", defaults.MetricsEnabled, "Expose Prometheus metrics on /metrics")

	return cmd
}

// run starts the server and blocks until the command context is cancelled.
func run(cmd *cobra.Command, app application.Application, cfg server.Config) error {
	logger := app.Logger()

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("prefix", cfg.PathPrefix).
		Str("mode", string(cfg.WebhookMode)).
		Strs("cors_origins", cfg.CORSOrigins).
		Bool("auth", cfg.AuthEnabled).
		Bool("signed", cfg.WebhookSecret != "").
		Int("rate_limit", cfg.RateLimit).
		Dur("dedupe_window", cfg.DedupeWindow).
		Msg("Starting webhook server")

	if _, err := app.Catalog(); err != nil {
		// Notifications are still acknowledged; /ready reports the problem
		logger.Warn().Err(err).Msg("Catalog not configured, reconciliations will fail")
	}

	srv, err := server.New(app, cfg)
	if err != nil {
		return err
	}

	if err := srv.Run(cmd.Context()); err != nil {
		return err
	}

	logger.Info().Msg("Server stopped gracefully")
	return nil
}

// parseConfig layers explicitly set flags over cfg.
func parseConfig(flags *pflag.FlagSet, cfg server.Config) (server.Config, error) {
	if flags.Changed("port") {
		cfg.Port = mustGetInt(flags, "port")
	}
	if flags.Changed("host") {
		cfg.Host = mustGetString(flags, "host")
	}
	if flags.Changed("prefix") {
		cfg.PathPrefix = mustGetString(flags, "prefix")
	}
	if flags.Changed("cors-origin") {
		cfg.CORSOrigins = mustGetStringSlice(flags, "cors-origin")
	}
	if flags.Changed("auth") {
		cfg.AuthEnabled = mustGetBool(flags, "auth")
	}
	if flags.Changed("auth-header") {
		cfg.AuthHeader = mustGetString(flags, "auth-header")
	}
	if flags.Changed("sync") {
		cfg.WebhookMode = webhook.ModeAsync
		if mustGetBool(flags, "sync") {
			cfg.WebhookMode = webhook.ModeSync
		}
	}
	if flags.Changed("dedupe-window") {
		cfg.DedupeWindow = mustGetDuration(flags, "dedupe-window")
	}
	if flags.Changed("rate-limit") {
		cfg.RateLimit = mustGetInt(flags, "rate-limit")
	}
	if flags.Changed("read-timeout") {
		cfg.ReadTimeout = mustGetDuration(flags, "read-timeout")
	}
	if flags.Changed("write-timeout") {
		cfg.WriteTimeout = mustGetDuration(flags, "write-timeout")
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout = mustGetDuration(flags, "idle-timeout")
	}
	if flags.Changed("shutdown-timeout") {
		cfg.ShutdownTimeout = mustGetDuration(flags, "shutdown-timeout")
	}
	if flags.Changed("metrics") {
		cfg.MetricsEnabled = mustGetBool(flags, "metrics")
	}

	return cfg, validate(cfg)
}

func validate(cfg server.Config) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return errors.NewValidationError("port", cfg.Port, "must be between 0 and 65535")
	}
	if cfg.AuthEnabled && cfg.APIKey == "" {
		return &errors.ValidationError{Field: "auth", Message: "requires an API key (DUPEWATCH_SERVER_API_KEY)"}
	}
	if cfg.RateLimit < 0 {
		return errors.NewValidationError("rate-limit", cfg.RateLimit, "cannot be negative")
	}
	for name, d := range map[string]time.Duration{
		"read-timeout":  cfg.ReadTimeout,
		"write-timeout": cfg.WriteTimeout,
		"idle-timeout":  cfg.IdleTimeout,
	} {
		if d < 0 {
			return errors.NewValidationError(name, d, "cannot be negative")
		}
	}
	return nil
}

// mustGetInt retrieves an integer flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetInt(flags *pflag.FlagSet, name string) int {
	val, err := flags.GetInt(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

func mustGetString(flags *pflag.FlagSet, name string) string {
	val, err := flags.GetString(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

func mustGetStringSlice(flags *pflag.FlagSet, name string) []string {
	val, err := flags.GetStringSlice(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

func mustGetBool(flags *pflag.FlagSet, name string) bool {
	val, err := flags.GetBool(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

func mustGetDuration(flags *pflag.FlagSet, name string) time.Duration {
	val, err := flags.GetDuration(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}
