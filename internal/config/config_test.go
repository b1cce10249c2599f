package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: DEV
db:
  host: db.internal
  port: 6543
auth:
  okta_domain: https://example.okta.com/oauth2/default/
installer:
  materialize_timeout: 90s
lock:
  redis_addr: redis:6379
`), 0o600))

	t.Setenv("SKILLHUB_DB_NAME", "from_env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 6543, cfg.DB.Port)
	assert.Equal(t, "from_env", cfg.DB.Name)
	assert.Equal(t, "https://example.okta.com/oauth2/default", cfg.Auth.OktaDomain)
	assert.Equal(t, 90*time.Second, cfg.Installer.MaterializeTimeout)
	assert.Equal(t, "redis:6379", cfg.Lock.RedisAddr)
	assert.Equal(t, path, cfg.Source)

	// untouched keys keep their defaults
	assert.Equal(t, "@every 1h", cfg.Installer.UpdateCheckSchedule)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.Equal(t, 5*time.Minute, cfg.Installer.MaterializeTimeout)
	assert.False(t, cfg.IsDev())
	assert.Empty(t, cfg.Source)
}

func TestNormalizeOktaIssuer(t *testing.T) {
	assert.Equal(t, "https://a.okta.com", normalizeOktaIssuer(" https://a.okta.com/ "))
	assert.Equal(t, "", normalizeOktaIssuer(""))
}
