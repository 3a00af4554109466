package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDkimConfigDefaults(t *testing.T) {
	cfg := DkimConfig{}
	require.NoError(t, env.Parse(&cfg))

	assert.Equal(t, "default", cfg.DefaultSelector)
	assert.Equal(t, 2048, cfg.KeySize)
	assert.Equal(t, 180, cfg.KeyLifetimeDays)
}

func TestWebhookConfigDefaults(t *testing.T) {
	cfg := WebhookConfig{}
	require.NoError(t, env.Parse(&cfg))

	assert.Equal(t, time.Minute, cfg.RetryInterval)
	assert.Equal(t, time.Hour, cfg.RetryBackoffCap)
	assert.Equal(t, 10*time.Minute, cfg.StuckJobAfter)
}
