package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"mergeboard/internal/security"
	"mergeboard/pkg/fileutil"
)

// Loader wraps a viper instance configured for mergeboard.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a Loader with defaults and env overrides registered.
func NewLoader() *Loader {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// SetDefaults registers every key of Default with v, which also makes the
// keys visible to env overrides during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("hosting.provider", d.Hosting.Provider)
	v.SetDefault("hosting.base_url", d.Hosting.BaseURL)
	v.SetDefault("hosting.main_branches", d.Hosting.MainBranches)
	v.SetDefault("hosting.timeout_seconds", d.Hosting.TimeoutSeconds)
	v.SetDefault("hosting.requests_per_second", d.Hosting.RequestsPerSecond)

	v.SetDefault("webhook.secret", d.Webhook.Secret)
	v.SetDefault("webhook.global_rate_per_minute", d.Webhook.GlobalRatePerMinute)
	v.SetDefault("webhook.webhook_rate_per_minute", d.Webhook.WebhookRatePerMinute)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.db_path", d.Audit.DBPath)

	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.level", d.Logging.Level)

	v.SetDefault("test_mode", d.TestMode)
}

// BindFlag makes a command-line flag override key when the flag is set.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag for config key %q", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads path, or the first file in the default search paths when path
// is empty. A missing file is not an error when path is empty.
func (l *Loader) Load(path string) (*Config, error) {
	if path == "" {
		path = fileutil.FindConfigOptional(FileName)
	}
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	return l.unmarshal()
}

// ConfigFile returns the file Load read, or "".
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}

// Watch re-reads the config file whenever it changes and passes every
// version that validates to apply. Changes to keys other than the webhook
// secret and the main branches are logged as needing a restart.
func (l *Loader) Watch(current *Config, logger *slog.Logger, apply func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		next, err := l.unmarshal()
		if err != nil {
			logger.Error("Ignoring config change", "file", e.Name, "error", err)
			return
		}
		next.TestMode = current.TestMode
		if problems := next.Validate(); len(problems) > 0 {
			logger.Error("Ignoring invalid config change", "file", e.Name, "problems", problems)
			return
		}

		if sections := RestartRequired(current, next); len(sections) > 0 {
			logger.Warn("Config change needs a restart to take effect", "sections", sections)
		}
		current = next
		logger.Info("Applying config change", "file", e.Name, "main_branches", next.Hosting.MainBranches)
		apply(next)
	})
	l.v.WatchConfig()
}

// RestartRequired lists the changed settings that are only read at startup.
func RestartRequired(old, next *Config) []string {
	var changed []string
	if !reflect.DeepEqual(old.Server, next.Server) {
		changed = append(changed, "server")
	}

	oldHosting, nextHosting := old.Hosting, next.Hosting
	oldHosting.MainBranches, nextHosting.MainBranches = nil, nil
	if !reflect.DeepEqual(oldHosting, nextHosting) {
		changed = append(changed, "hosting")
	}

	oldWebhook, nextWebhook := old.Webhook, next.Webhook
	oldWebhook.Secret, nextWebhook.Secret = "", ""
	if oldWebhook != nextWebhook {
		changed = append(changed, "webhook")
	}

	if old.Audit != next.Audit {
		changed = append(changed, "audit")
	}
	if old.Logging != next.Logging {
		changed = append(changed, "logging")
	}
	return changed
}

// ErrConfigExists is returned by WriteFile when path exists and force is
// false.
var ErrConfigExists = errors.New("config file already exists")

// WriteFile writes cfg as YAML to path with owner-only permissions.
func WriteFile(path string, cfg *Config, force bool) error {
	if !force && fileutil.FileExists(path) {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	file, err := security.CreateConfigFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
