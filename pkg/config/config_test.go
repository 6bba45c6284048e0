package config_test

import (
	"testing"
	"time"

	"github.com/aegis-labs/aegis-firewall/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"AEGIS_UPSTREAM_URL", "AEGIS_CONTRACT_ADDRESS", "AEGIS_ETH_RPC_URL",
		"AEGIS_ADMIN_DEFAULT_USER", "AEGIS_ADMIN_DEFAULT_AGENT", "AEGIS_FACILITATOR_KEY",
		"AEGIS_KV_URL", "AEGIS_ANCHOR_EPOCH_SECONDS", "AEGIS_ANCHOR_BATCH_SIZE",
		"AEGIS_ANCHOR_SECRET", "AEGIS_ANCHOR_MODE", "AEGIS_LISTEN_PORT",
		"AEGIS_REQUEST_TIMEOUT_SECONDS", "AEGIS_LOG_LEVEL", "AEGIS_AUDIT_DSN",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.ListenPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 900*time.Second, cfg.AnchorEpoch)
	assert.Equal(t, 20, cfg.AnchorBatchSize)
	assert.Equal(t, config.AnchorModeContinuous, cfg.AnchorMode)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AEGIS_LISTEN_PORT", "9090")
	t.Setenv("AEGIS_ANCHOR_MODE", "one-shot")
	t.Setenv("AEGIS_ANCHOR_BATCH_SIZE", "5")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.ListenPort)
	assert.Equal(t, config.AnchorModeOneShot, cfg.AnchorMode)
	assert.Equal(t, 5, cfg.AnchorBatchSize)
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	clearEnv(t)
	cfg := config.Load()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AEGIS_UPSTREAM_URL")
	assert.Contains(t, err.Error(), "AEGIS_FACILITATOR_KEY")
}

func TestValidate_CompleteConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("AEGIS_UPSTREAM_URL", "http://upstream.local")
	t.Setenv("AEGIS_CONTRACT_ADDRESS", "0x1111111111111111111111111111111111111111")
	t.Setenv("AEGIS_ETH_RPC_URL", "http://eth.local")
	t.Setenv("AEGIS_FACILITATOR_KEY", "deadbeef")
	t.Setenv("AEGIS_KV_URL", "redis://localhost:6379/0")
	t.Setenv("AEGIS_ANCHOR_SECRET", "s3cret")

	cfg := config.Load()
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsUnknownAnchorMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("AEGIS_UPSTREAM_URL", "http://upstream.local")
	t.Setenv("AEGIS_CONTRACT_ADDRESS", "0x1111111111111111111111111111111111111111")
	t.Setenv("AEGIS_ETH_RPC_URL", "http://eth.local")
	t.Setenv("AEGIS_FACILITATOR_KEY", "deadbeef")
	t.Setenv("AEGIS_KV_URL", "redis://localhost:6379/0")
	t.Setenv("AEGIS_ANCHOR_SECRET", "s3cret")
	t.Setenv("AEGIS_ANCHOR_MODE", "bogus")

	cfg := config.Load()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AEGIS_ANCHOR_MODE")
}
