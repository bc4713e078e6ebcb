package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mergeboard/internal/audit"
	"mergeboard/internal/config"
	"mergeboard/internal/hosting"
)

// TokenEnv holds the operator token for the client commands.
const TokenEnv = "MERGEBOARD_TOKEN"

var errMissingToken = errors.New("a hosting token is required: pass --token or set " + TokenEnv)

// clientFlags are shared by the commands that call the hosting API.
type clientFlags struct {
	token   string
	project int64
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.token, "token", "", "Personal access token (default: $"+TokenEnv+")")
	cmd.Flags().Int64Var(&f.project, "project", 0, "Project (GitLab) or repository (GitHub) ID")
	_ = cmd.MarkFlagRequired("project")
}

// resolveToken prefers the flag over the environment.
func resolveToken(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(TokenEnv)
}

// loadClientConfig loads the configuration and checks only what a client
// command needs.
func loadClientConfig() (*config.Config, error) {
	cfg, err := config.NewLoader().Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := config.Problems(cfg.ValidateClient()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newClient builds a hosting client from the configuration and the token.
func (f *clientFlags) newClient() (hosting.Client, *config.Config, error) {
	cfg, err := loadClientConfig()
	if err != nil {
		return nil, nil, err
	}

	token := resolveToken(f.token)
	if token == "" {
		return nil, nil, errMissingToken
	}

	opts := cfg.HostingOptions()
	opts.Token = token
	client, err := hosting.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

// openJournal opens the audit journal when it is enabled. The caller closes
// a non-nil journal.
func openJournal(cfg *config.Config) (*audit.Journal, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	return audit.Open(cfg.Audit.DBPath)
}

// cliLogger only surfaces warnings; the commands print their own results.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
