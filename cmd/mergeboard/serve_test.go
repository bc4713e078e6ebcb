package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mergeboard/internal/config"
	"mergeboard/internal/hosting"
	"mergeboard/internal/webhook"
)

func TestApplyReload_MainBranchesReachWebhookAndClients(t *testing.T) {
	cfg := config.Default()
	cfg.Webhook.Secret = "initial-secret"
	cfg.Hosting.MainBranches = []string{"main"}

	store := webhook.NewStore(cfg.WebhookSettings())
	factory := hosting.NewFactory(cfg.HostingOptions())

	next := config.Default()
	next.Webhook.Secret = "rotated-secret"
	next.Hosting.MainBranches = []string{"trunk"}
	applyReload(store, factory)(next)

	settings := store.Load()
	assert.Equal(t, "rotated-secret", settings.Secret)
	assert.True(t, settings.IsMainBranch("trunk"))
	assert.False(t, settings.IsMainBranch("main"))
	assert.Equal(t, []string{"trunk"}, factory.MainBranches())
}
