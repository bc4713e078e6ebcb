package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mergeboard/internal/audit"
	"mergeboard/internal/config"
	"mergeboard/internal/hosting"
	"mergeboard/internal/relay"
	"mergeboard/internal/security"
	"mergeboard/internal/server"
	"mergeboard/internal/webhook"
)

// ShutdownTimeout bounds the graceful shutdown after SIGINT or SIGTERM.
const ShutdownTimeout = 15 * time.Second

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and live status server",
	Long: `Start the HTTP server that receives pipeline webhooks and relays the latest
main-branch status to connected viewers.

Settings come from flags, MERGEBOARD_* environment variables, mergeboard.yaml
and built-in defaults, in that order. The webhook secret and the main branch
list are reloaded when the config file changes.`,
	RunE: runServe,
}

// serveFlags maps serve flags to config keys.
var serveFlags = map[string]string{
	"host":      "server.host",
	"port":      "server.port",
	"provider":  "hosting.provider",
	"base-url":  "hosting.base_url",
	"log":       "logging.file",
	"log-level": "logging.level",
	"audit":     "audit.enabled",
	"db":        "audit.db_path",
	"test-mode": "test_mode",
}

func init() {
	d := config.Default()

	// Flags for serve command
	serveCmd.Flags().String("host", d.Server.Host, "Host to bind to")
	serveCmd.Flags().IntP("port", "p", d.Server.Port, "Port to listen on")
	serveCmd.Flags().String("provider", d.Hosting.Provider, "Hosting provider: gitlab or github")
	serveCmd.Flags().String("base-url", d.Hosting.BaseURL, "Hosting API base URL (default: the provider's public instance)")
	serveCmd.Flags().String("log", d.Logging.File, "Path to log file")
	serveCmd.Flags().String("log-level", d.Logging.Level, "Log level: debug, info, warn or error")
	serveCmd.Flags().Bool("audit", d.Audit.Enabled, "Record merges and stage triggers in the audit journal")
	serveCmd.Flags().String("db", d.Audit.DBPath, "Path to the audit journal SQLite database")
	serveCmd.Flags().Bool("test-mode", false, "Enable test mode (skip secret strength checks and rate limits)")
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader()
	for name, key := range serveFlags {
		if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}

	cfg, err := loader.Load(configFile)
	if err != nil {
		return err
	}

	// Set up logging
	logger, logFileHandle, err := setupLogging(cfg.Logging.File, cfg.LogLevel())
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("Starting mergeboard", "version", version)

	if path := loader.ConfigFile(); path != "" {
		logger.Info("Loaded configuration", "config", path)
		if err := security.CheckConfigFile(path); err != nil {
			logger.Warn("Config file holds the webhook secret", "warning", err)
		}
	} else {
		logger.Info("No config file found, using defaults and environment")
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		for _, problem := range problems {
			logger.Error("Invalid configuration", "problem", problem)
		}
		return config.Problems(problems)
	}
	if cfg.TestMode {
		logger.Warn("Test mode enabled: secret strength checks and rate limits are off")
	}

	// Initialize audit journal
	var journal *audit.Journal
	if cfg.Audit.Enabled {
		logger.Info("Opening audit journal", "db", cfg.Audit.DBPath)
		journal, err = audit.Open(cfg.Audit.DBPath)
		if err != nil {
			logger.Error("Failed to open audit journal", "error", err)
			return fmt.Errorf("failed to open audit journal: %w", err)
		}
	}

	store := webhook.NewStore(cfg.WebhookSettings())
	factory := hosting.NewFactory(cfg.HostingOptions())
	loader.Watch(cfg, logger, applyReload(store, factory))

	srv := server.NewServer(
		relay.New(logger),
		factory,
		store,
		journal,
		logger,
		server.Options{
			AllowedOrigins:       cfg.Server.AllowedOrigins,
			GlobalRatePerMinute:  cfg.Webhook.GlobalRatePerMinute,
			WebhookRatePerMinute: cfg.Webhook.WebhookRatePerMinute,
			TestMode:             cfg.TestMode,
		},
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Host, cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		shutdownErr := srv.Shutdown(context.Background())
		if err != nil {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return shutdownErr
	case <-ctx.Done():
		logger.Info("Shutting down", "timeout", ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		logger.Info("Server stopped")
		return nil
	}
}

// applyReload pushes the live-reloadable settings to the webhook filter and
// the client factory, so pushed and pulled statuses agree on the main branch.
func applyReload(store *webhook.Store, factory *hosting.Factory) func(*config.Config) {
	return func(next *config.Config) {
		store.Update(next.WebhookSettings())
		factory.SetMainBranches(next.Hosting.MainBranches)
	}
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath string, level slog.Level) (*slog.Logger, *os.File, error) {
	file, err := security.OpenLogFile(logPath)
	if err != nil {
		return nil, nil, err
	}

	// Create multi-writer to log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, file)

	// Create JSON handler for structured logging
	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler), file, nil
}
