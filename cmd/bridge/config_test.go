package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-auth-bridge"
	goerrors "github.com/goliatone/go-errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const testConfigYAML = `
audience_attr: https://api.test
key_source_domain: tenant.auth0.com
shared_secret: shared
mapping_strategy: derived-email
allowed_algorithms:
  - RS256
leeway: 30s
jwks_requests_per_minute: 10
listen_addr: ":9000"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := loadConfig(nil, writeConfig(t, testConfigYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://api.test", cfg.AudienceAttr)
	assert.Equal(t, "tenant.auth0.com", cfg.KeySourceDomain)
	assert.Equal(t, []string{"RS256"}, cfg.AllowedAlgorithms)
	assert.Equal(t, 30*time.Second, cfg.Leeway)
	assert.Equal(t, 6*time.Second, cfg.JWKSRefreshRateLimit())
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, defaultPurgeInterval, cfg.PurgeInterval)
	assert.Equal(t, auth.DefaultModel, cfg.Model)
	assert.Equal(t, auth.SessionBackendSQL, cfg.SessionBackend)
}

func TestLoadConfig_EnvAndFlagsOverride(t *testing.T) {
	t.Setenv("AUTH_AUDIENCE_ATTR", "https://env.test")
	t.Setenv("AUTH_PURGE_INTERVAL", "1m")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen-addr", "", "")
	require.NoError(t, flags.Parse([]string{"--listen-addr", ":7000"}))

	cfg, err := loadConfig(flags, writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://env.test", cfg.AudienceAttr)
	assert.Equal(t, time.Minute, cfg.PurgeInterval)
	assert.Equal(t, ":7000", cfg.ListenAddr)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(nil, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeInvalidConfig, textCode(t, err))
}

func TestRedact(t *testing.T) {
	cfg := redact(auth.Config{SharedSecret: "s", HMACSecret: "h", AudienceAttr: "a"})
	assert.Equal(t, "********", cfg.SharedSecret)
	assert.Equal(t, "********", cfg.HMACSecret)
	assert.Equal(t, "a", cfg.AudienceAttr)
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"console", "json", ""} {
		logger, err := newLogger("debug", format)
		require.NoError(t, err, format)
		assert.NotNil(t, logger)
	}

	_, err := newLogger("loud", "json")
	assert.Error(t, err)

	_, err = newLogger("info", "xml")
	assert.Error(t, err)
}

func TestAppOptions_Graph(t *testing.T) {
	cfg, err := loadConfig(nil, writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.NoError(t, fx.ValidateApp(appOptions(cfg, zap.NewNop())))
}

func textCode(t *testing.T, err error) string {
	t.Helper()
	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	return richErr.TextCode
}
