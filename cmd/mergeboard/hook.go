package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mergeboard/internal/security"
)

var (
	hookFlags  clientFlags
	hookURL    string
	hookSecret string
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Manage the pipeline webhook",
}

var hookRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the pipeline webhook on a project",
	Long: `Register the mergeboard pipeline webhook on a project. Nothing changes when a
hook for the URL already exists.

The secret defaults to webhook.secret from the configuration. When neither is
set a new secret is generated and printed; put it in mergeboard.yaml.

Example:
  mergeboard hook register --project 42 --url https://mergeboard.example.com/webhook/pipeline`,
	RunE: runHookRegister,
}

func init() {
	hookFlags.register(hookRegisterCmd)
	hookRegisterCmd.Flags().StringVar(&hookURL, "url", "", "Public URL of the webhook endpoint")
	hookRegisterCmd.Flags().StringVar(&hookSecret, "secret", "", "Webhook secret (default: webhook.secret, or generated)")
	_ = hookRegisterCmd.MarkFlagRequired("url")

	hookCmd.AddCommand(hookRegisterCmd)
}

func runHookRegister(cmd *cobra.Command, args []string) error {
	if err := security.ValidateHTTPURL(hookURL); err != nil {
		return fmt.Errorf("invalid --url: %w", err)
	}

	client, cfg, err := hookFlags.newClient()
	if err != nil {
		return err
	}

	secret, generated, err := webhookSecret(hookSecret, cfg.Webhook.Secret)
	if err != nil {
		return err
	}

	created, err := client.EnsureWebhook(cmd.Context(), hookFlags.project, hookURL, secret)
	if err != nil {
		return fmt.Errorf("failed to register webhook: %w", err)
	}

	if !created {
		printStep(fmt.Sprintf("Webhook for %s already registered", hookURL), false)
		return nil
	}
	printStep(fmt.Sprintf("Registered webhook for %s", hookURL), true)
	if generated {
		fmt.Printf("\nGenerated webhook secret (set webhook.secret to this value):\n  %s\n", secret)
	}
	return nil
}

// webhookSecret picks the flag value, then the configured secret, and
// generates one when both are empty.
func webhookSecret(flag, configured string) (secret string, generated bool, err error) {
	for _, candidate := range []string{flag, configured} {
		if candidate == "" {
			continue
		}
		if err := security.ValidateSecret(candidate); err != nil {
			return "", false, fmt.Errorf("weak webhook secret: %w", err)
		}
		return candidate, false, nil
	}

	secret, err = security.GenerateSecret()
	if err != nil {
		return "", false, err
	}
	return secret, true, nil
}
