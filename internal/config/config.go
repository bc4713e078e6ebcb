// Package config loads mergeboard settings from flags, MERGEBOARD_* env
// vars, a YAML file and defaults, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"mergeboard/internal/hosting"
	"mergeboard/internal/security"
	"mergeboard/internal/webhook"
)

const (
	// FileName is the config file looked up in the default search paths.
	FileName = "mergeboard.yaml"

	// EnvPrefix prefixes every environment override, e.g.
	// MERGEBOARD_WEBHOOK_SECRET or MERGEBOARD_HOSTING_MAIN_BRANCHES=main,trunk.
	EnvPrefix = "MERGEBOARD"
)

// Config is the complete mergeboard configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Hosting HostingConfig `mapstructure:"hosting" yaml:"hosting"`
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
	Audit   AuditConfig   `mapstructure:"audit" yaml:"audit"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// TestMode skips secret strength checks and disables rate limiting.
	TestMode bool `mapstructure:"test_mode" yaml:"test_mode,omitempty"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// AllowedOrigins are the browser origins allowed by CORS.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// HostingConfig selects and tunes the hosting service client.
type HostingConfig struct {
	// Provider is "gitlab" or "github".
	Provider string `mapstructure:"provider" yaml:"provider"`
	// BaseURL defaults to the provider's public instance when empty.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// MainBranches are the refs whose pipelines reach the relay.
	MainBranches      []string `mapstructure:"main_branches" yaml:"main_branches"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// WebhookConfig holds the shared secret and inbound rate limits.
type WebhookConfig struct {
	Secret               string `mapstructure:"secret" yaml:"secret"`
	GlobalRatePerMinute  int    `mapstructure:"global_rate_per_minute" yaml:"global_rate_per_minute"`
	WebhookRatePerMinute int    `mapstructure:"webhook_rate_per_minute" yaml:"webhook_rate_per_minute"`
}

// AuditConfig enables the SQLite audit journal.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DBPath  string `mapstructure:"db_path" yaml:"db_path"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Level string `mapstructure:"level" yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           3000,
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Hosting: HostingConfig{
			Provider:          hosting.ProviderGitLab,
			MainBranches:      slices.Clone(hosting.DefaultMainBranches),
			TimeoutSeconds:    int(hosting.DefaultTimeout / time.Second),
			RequestsPerSecond: 0,
		},
		Webhook: WebhookConfig{
			GlobalRatePerMinute:  120,
			WebhookRatePerMinute: 60,
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  "./mergeboard.db",
		},
		Logging: LoggingConfig{
			File:  "./mergeboard.log",
			Level: "info",
		},
	}
}

var validLevels = []string{"debug", "info", "warn", "error"}

// Validate returns every problem found. An empty result means the
// configuration can be served.
func (c *Config) Validate() []string {
	problems := c.ValidateClient()

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	for _, origin := range c.Server.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if err := security.ValidateHTTPURL(origin); err != nil {
			problems = append(problems, fmt.Sprintf("server.allowed_origins: %q: %v", origin, err))
		}
	}

	if c.Webhook.Secret == "" {
		problems = append(problems, "webhook.secret is required")
	} else if !c.TestMode {
		if err := security.ValidateSecret(c.Webhook.Secret); err != nil {
			problems = append(problems, fmt.Sprintf("webhook.secret: %v", err))
		}
	}
	if c.Webhook.GlobalRatePerMinute < 0 || c.Webhook.WebhookRatePerMinute < 0 {
		problems = append(problems, "webhook rate limits cannot be negative")
	}

	if c.Audit.Enabled && strings.TrimSpace(c.Audit.DBPath) == "" {
		problems = append(problems, "audit.db_path is required when audit.enabled is true")
	}

	if !slices.Contains(validLevels, strings.ToLower(c.Logging.Level)) {
		problems = append(problems, fmt.Sprintf("logging.level must be one of %s, got %q", strings.Join(validLevels, ", "), c.Logging.Level))
	}

	return problems
}

// ValidateClient checks only what the CLI needs to talk to the hosting
// service.
func (c *Config) ValidateClient() []string {
	var problems []string

	switch c.Hosting.Provider {
	case hosting.ProviderGitLab, hosting.ProviderGitHub:
	default:
		problems = append(problems, fmt.Sprintf("hosting.provider must be %q or %q, got %q", hosting.ProviderGitLab, hosting.ProviderGitHub, c.Hosting.Provider))
	}
	if c.Hosting.BaseURL != "" {
		if err := security.ValidateHTTPURL(c.Hosting.BaseURL); err != nil {
			problems = append(problems, fmt.Sprintf("hosting.base_url: %v", err))
		}
	}
	if len(c.Hosting.MainBranches) == 0 {
		problems = append(problems, "hosting.main_branches must list at least one branch")
	}
	for _, branch := range c.Hosting.MainBranches {
		if err := security.ValidateBranchName(branch); err != nil {
			problems = append(problems, fmt.Sprintf("hosting.main_branches: %q: %v", branch, err))
		}
	}
	if c.Hosting.TimeoutSeconds <= 0 {
		problems = append(problems, fmt.Sprintf("hosting.timeout_seconds must be positive, got %d", c.Hosting.TimeoutSeconds))
	}
	if c.Hosting.RequestsPerSecond < 0 {
		problems = append(problems, "hosting.requests_per_second cannot be negative")
	}

	return problems
}

// Problems formats Validate output the way the CLI prints it.
func Problems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
}

// HostingOptions returns client options without a credential.
func (c *Config) HostingOptions() hosting.Options {
	return hosting.Options{
		Provider:          c.Hosting.Provider,
		BaseURL:           c.Hosting.BaseURL,
		MainBranches:      slices.Clone(c.Hosting.MainBranches),
		Timeout:           time.Duration(c.Hosting.TimeoutSeconds) * time.Second,
		RequestsPerSecond: c.Hosting.RequestsPerSecond,
	}
}

// WebhookSettings returns the hot-reloadable part of the configuration.
func (c *Config) WebhookSettings() webhook.Settings {
	return webhook.Settings{
		Secret:       c.Webhook.Secret,
		MainBranches: slices.Clone(c.Hosting.MainBranches),
	}
}

// LogLevel parses Logging.Level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
