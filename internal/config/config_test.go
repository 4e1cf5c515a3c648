package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetenv(t, "POS_PORT", "POS_AUTH_SECRET", "POS_PROMOS_FILE", "POS_PACKS_FILE", "POS_ACCESS_TOKEN_TTL", "POS_PROMO_CACHE_TTL", "POS_RUN_MIGRATIONS")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "config/promos.yaml", cfg.PromosFile)
	assert.Equal(t, "config/packs.yaml", cfg.PacksFile)
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL)
	assert.Zero(t, cfg.PromoCacheTTL)
	assert.True(t, cfg.RunMigrations)
	assert.Empty(t, cfg.AuthSecret, "no weak default secret is injected")
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("POS_PORT", "9090")
	t.Setenv("POS_PROMOS_FILE", "/etc/paleteria/promos.yaml")
	t.Setenv("POS_PROMO_CACHE_TTL", "30s")
	t.Setenv("POS_REDIS_DB", "2")
	t.Setenv("POS_AUTH_SECRET", "  0123456789abcdef0123456789abcdef  ")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/etc/paleteria/promos.yaml", cfg.PromosFile)
	assert.Equal(t, 30*time.Second, cfg.PromoCacheTTL)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.AuthSecret)
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("POS_LOG_LEVEL=debug\nPOS_PORT=7000\n"), 0o600))
	t.Setenv("POS_PORT", "9191")
	unsetenv(t, "POS_LOG_LEVEL")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9191", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("POS_REDIS_DB", "not-a-number")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidateSecurity(t *testing.T) {
	assert.Error(t, Config{AuthSecret: "short", AccessTokenTTL: time.Hour}.ValidateSecurity())
	assert.Error(t, Config{AuthSecret: "0123456789abcdef0123456789abcdef", AccessTokenTTL: 48 * time.Hour}.ValidateSecurity())
	assert.NoError(t, Config{AuthSecret: "0123456789abcdef0123456789abcdef", AccessTokenTTL: 8 * time.Hour}.ValidateSecurity())
}

func TestLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Config{Timezone: "Nowhere/Atlantis"}.Location())
	assert.Equal(t, time.UTC, Config{}.Location())
}
