package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTempConfig writes content to a temporary config file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `fundinghub:
  name: "TestHub"
  version: "1.0"
exchanges:
  edgex:
    concurrency: 1
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "TestHub", cfg.FundingHub.Name)
	assert.Equal(t, 60*time.Second, cfg.Refresh.Interval)
	assert.Equal(t, 1, cfg.Exchanges.EdgeX.Concurrency)
	assert.Equal(t, 5, cfg.Exchanges.Aster.Concurrency)
	assert.Equal(t, "https://fapi.binance.com", cfg.Exchanges.Binance.BaseURL)
	assert.True(t, cfg.Exchanges.Lighter.Enabled)
}

func TestLoadConfigSampleFile(t *testing.T) {
	cfg, err := LoadConfig("config.yml")
	require.NoError(t, err)
	assert.Equal(t, "dex-funding-hub", cfg.FundingHub.Name)
	assert.Equal(t, 50*time.Millisecond, cfg.Exchanges.EdgeX.RequestDelay)
	assert.Empty(t, cfg.Exchanges.Selected)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("EDGEX_COOKIES", "cf_clearance=abc; __cf_bm=def")
	t.Setenv("FUNDINGHUB_EXCHANGES", "Aster, Binance ,")
	path := writeTempConfig(t, "fundinghub:\n  name: x\n  version: y\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "cf_clearance=abc; __cf_bm=def", cfg.Exchanges.EdgeX.Cookies)
	assert.Equal(t, []string{"Aster", "Binance"}, cfg.Exchanges.Selected)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"unknown exchange": "exchanges:\n  selected: [Kraken]\n",
		"zero interval":    "refresh:\n  interval: 0s\n",
		"edgex workers":    "exchanges:\n  edgex:\n    concurrency: 0\n",
		"s3 without bucket": "storage:\n  s3:\n    enabled: true\n    region: eu-west-1\n",
		"empty name":       "fundinghub:\n  name: \"\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("S3_BUCKET", "")
			_, err := LoadConfig(writeTempConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.valid, isValidS3Bucket(c.name), "isValidS3Bucket(%q)", c.name)
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	assert.Equal(t, "production", AppEnvironment())
	t.Setenv("APP_ENV", "")
	assert.Equal(t, "development", AppEnvironment())
}

func TestResolveEnvSpecificPath(t *testing.T) {
	dir := t.TempDir()
	prodPath := filepath.Join(dir, "prod.yml")
	require.NoError(t, os.WriteFile(prodPath, []byte("{}"), 0o644))
	paths := map[string]string{"production": prodPath}

	t.Setenv("APP_ENV", "production")
	assert.Equal(t, prodPath, resolveEnvSpecificPath("", "default.yml", paths))
	assert.Equal(t, "custom.yml", resolveEnvSpecificPath("custom.yml", "default.yml", paths))

	t.Setenv("APP_ENV", "staging")
	assert.Equal(t, "default.yml", resolveEnvSpecificPath("", "default.yml", paths))
}
