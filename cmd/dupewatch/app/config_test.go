package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentstation/dupewatch/pkg/constants"
	"github.com/agentstation/dupewatch/pkg/errors"
)

// isolate runs the test in an empty working directory with an empty home,
// so no .env or .dupewatch.yaml from the machine leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	return dir
}

// TestLoadConfig verifies defaults when nothing is configured.
func TestLoadConfig(t *testing.T) {
	isolate(t)

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if config.LogFormat != "auto" {
		t.Errorf("LogFormat = %q, want auto", config.LogFormat)
	}
	if config.Server.Port != constants.DefaultHTTPPort {
		t.Errorf("Server.Port = %d, want %d", config.Server.Port, constants.DefaultHTTPPort)
	}
	if config.Webhook.Mode != "async" {
		t.Errorf("Webhook.Mode = %q, want async", config.Webhook.Mode)
	}
	if !config.Reconcile.WaitForRelations {
		t.Error("Reconcile.WaitForRelations should default to true")
	}
	if config.Reconcile.RelationConcurrency != constants.MaxRelationConcurrency {
		t.Errorf("RelationConcurrency = %d, want %d", config.Reconcile.RelationConcurrency, constants.MaxRelationConcurrency)
	}
	if config.Catalog.URL != "" {
		t.Errorf("Catalog.URL = %q, want empty", config.Catalog.URL)
	}
}

// TestConfig_EnvironmentVariables verifies prefixed environment variables.
func TestConfig_EnvironmentVariables(t *testing.T) {
	isolate(t)
	t.Setenv("DUPEWATCH_CATALOG_URL", "https://dam.example.com")
	t.Setenv("DUPEWATCH_CATALOG_TIMEOUT", "5s")
	t.Setenv("DUPEWATCH_WEBHOOK_MODE", "sync")
	t.Setenv("DUPEWATCH_WEBHOOK_DEDUPE_WINDOW", "1m")
	t.Setenv("DUPEWATCH_RECONCILE_WAIT_FOR_RELATIONS", "false")
	t.Setenv("DUPEWATCH_FORMAT", "json")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if config.Catalog.URL != "https://dam.example.com" {
		t.Errorf("Catalog.URL = %q", config.Catalog.URL)
	}
	if config.Catalog.Timeout != 5*time.Second {
		t.Errorf("Catalog.Timeout = %v, want 5s", config.Catalog.Timeout)
	}
	if config.Webhook.Mode != "sync" {
		t.Errorf("Webhook.Mode = %q, want sync", config.Webhook.Mode)
	}
	if config.Webhook.DedupeWindow != time.Minute {
		t.Errorf("Webhook.DedupeWindow = %v, want 1m", config.Webhook.DedupeWindow)
	}
	if config.Reconcile.WaitForRelations {
		t.Error("Reconcile.WaitForRelations should be false")
	}
	if config.Format != "json" {
		t.Errorf("Format = %q, want json", config.Format)
	}
}

// TestConfig_LegacyEnvironment verifies the unprefixed variables.
func TestConfig_LegacyEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("HTTP_PORT", "8123")
	t.Setenv("CORS_HEADER", "https://dam.example.com")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if config.Server.Port != 8123 {
		t.Errorf("Server.Port = %d, want 8123", config.Server.Port)
	}
	if len(config.Server.CORSOrigin) != 1 || config.Server.CORSOrigin[0] != "https://dam.example.com" {
		t.Errorf("Server.CORSOrigin = %v", config.Server.CORSOrigin)
	}
}

// TestConfig_File verifies an explicit YAML config file.
func TestConfig_File(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "dupewatch.yaml")
	data := `
catalog:
  url: https://dam.example.com
  search_limit: 50
server:
  port: 7070
  api_key: k3y
webhook:
  secret: s3cret
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if config.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", config.ConfigFile, path)
	}
	if config.Catalog.SearchLimit != 50 {
		t.Errorf("Catalog.SearchLimit = %d, want 50", config.Catalog.SearchLimit)
	}
	if config.Server.Port != 7070 || config.Server.APIKey != "k3y" {
		t.Errorf("Server = %+v", config.Server)
	}
	if config.Webhook.Secret != "s3cret" {
		t.Errorf("Webhook.Secret = %q", config.Webhook.Secret)
	}
}

// TestConfig_MissingFile verifies an explicit file must exist.
func TestConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	var cfgErr *errors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("LoadConfig() error = %v, want ConfigError", err)
	}
}

// TestConfig_EnvFile verifies .env files are loaded from the working directory.
func TestConfig_EnvFile(t *testing.T) {
	dir := isolate(t)
	// t.Setenv restores the variable; godotenv only sets unset ones
	t.Setenv("DUPEWATCH_CATALOG_TOKEN", "")
	if err := os.Unsetenv("DUPEWATCH_CATALOG_TOKEN"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DUPEWATCH_CATALOG_TOKEN=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if config.Catalog.Token != "from-dotenv" {
		t.Errorf("Catalog.Token = %q, want from-dotenv", config.Catalog.Token)
	}
}

// TestConfig_Validate verifies invalid values are rejected.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"port", "DUPEWATCH_SERVER_PORT", "70000"},
		{"concurrency", "DUPEWATCH_RECONCILE_RELATION_CONCURRENCY", "0"},
		{"call timeout", "DUPEWATCH_RECONCILE_CALL_TIMEOUT", "0s"},
		{"dedupe window", "DUPEWATCH_WEBHOOK_DEDUPE_WINDOW", "-1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.env, tt.val)

			_, err := LoadConfig("")
			var verr *errors.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("LoadConfig() error = %v, want ValidationError", err)
			}
		})
	}
}

// TestConfig_UpdateFromFlags verifies flags take precedence.
func TestConfig_UpdateFromFlags(t *testing.T) {
	config := &Config{Format: "yaml", LogLevel: "warn"}

	config.UpdateFromFlags(true, false, true, "", "")
	if !config.Verbose || !config.NoColor {
		t.Error("boolean flags not applied")
	}
	if config.Format != "yaml" || config.LogLevel != "warn" {
		t.Error("empty flags must not clear configured values")
	}

	config.UpdateFromFlags(false, false, false, "json", "debug")
	if config.Format != "json" || config.LogLevel != "debug" {
		t.Errorf("Format/LogLevel = %q/%q, want json/debug", config.Format, config.LogLevel)
	}
	if !config.Verbose {
		t.Error("unset flag must not clear a configured value")
	}
}
