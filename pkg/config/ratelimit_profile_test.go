package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aegis-labs/aegis-firewall/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRateLimitProfiles_EmptyPath(t *testing.T) {
	overrides, err := config.LoadRateLimitProfiles("")
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestLoadRateLimitProfiles_ParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ratelimits.yaml")
	content := `
profiles:
  - user: "0xVIP"
    agent: "0xAgent"
    rpm: 6000
    burst: 100
  - user: "0xThrottled"
    agent: "0xAgent"
    rpm: 10
    burst: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	overrides, err := config.LoadRateLimitProfiles(path)
	require.NoError(t, err)
	require.Len(t, overrides, 2)

	vip := overrides["0xvip:0xagent"]
	assert.Equal(t, 6000, vip.RPM)
	assert.Equal(t, 100, vip.Burst)
}

func TestLoadRateLimitProfiles_MissingFile(t *testing.T) {
	_, err := config.LoadRateLimitProfiles("/nonexistent/path.yaml")
	assert.Error(t, err)
}
