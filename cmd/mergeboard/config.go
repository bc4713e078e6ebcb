package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mergeboard/internal/config"
	"mergeboard/internal/security"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or check the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with defaults and a new webhook secret",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration the server would use",
	RunE:  runConfigCheck,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.FileName
	if len(args) == 1 {
		path = args[0]
	}

	cfg := config.Default()
	secret, err := security.GenerateSecret()
	if err != nil {
		return err
	}
	cfg.Webhook.Secret = secret

	if err := config.WriteFile(path, cfg, configForce); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return fmt.Errorf("%w (use --force to overwrite)", err)
		}
		return err
	}

	printStep(fmt.Sprintf("Wrote %s", path), true)
	return nil
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(configFile)
	if err != nil {
		return err
	}

	source := loader.ConfigFile()
	if source == "" {
		source = "defaults and environment"
	}
	if err := config.Problems(cfg.Validate()); err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}

	printStep(fmt.Sprintf("Configuration from %s is valid", source), true)
	return nil
}
