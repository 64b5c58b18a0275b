package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "gemini-2.5-flash", cfg.Provider.Model)
	assert.Equal(t, 1, cfg.Dispatcher.MaxConcurrent)
	assert.Equal(t, 5, cfg.Dispatcher.CallsPerInterval)
	assert.Equal(t, time.Second, cfg.Dispatcher.Interval)
	assert.True(t, cfg.Dispatcher.CarryOver)
	assert.Equal(t, 100, cfg.Cache.Capacity)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BackoffBase)
	assert.Equal(t, 1000, cfg.Key.ImagePrefixBytes)
	assert.Equal(t, 200, cfg.Key.PromptPrefixChars)

	require.NoError(t, cfg.Validate())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
provider:
  model: gemini-2.5-pro
  timeout: 30s
dispatcher:
  max_concurrent: 2
  calls_per_interval: 10
  carry_over: false
cache:
  capacity: 50
  ttl: 10m
retry:
  max_retries: 5
  backoff_base: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-pro", cfg.Provider.Model)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 2, cfg.Dispatcher.MaxConcurrent)
	assert.Equal(t, 10, cfg.Dispatcher.CallsPerInterval)
	assert.False(t, cfg.Dispatcher.CarryOver)
	assert.Equal(t, 50, cfg.Cache.Capacity)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BackoffBase)

	// Untouched sections keep their defaults.
	assert.Equal(t, time.Second, cfg.Dispatcher.Interval)
	assert.Equal(t, 1000, cfg.Key.ImagePrefixBytes)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  model: from-file\n"), 0o600))

	t.Setenv("CHARTFLOW_MODEL", "from-env")
	t.Setenv("CHARTFLOW_API_KEY", "secret")
	t.Setenv("CHARTFLOW_CACHE_CAPACITY", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Provider.Model)
	assert.Equal(t, "secret", cfg.Provider.APIKey)
	assert.Equal(t, 7, cfg.Cache.Capacity)
}

func TestLoad_EnvCoversFullSurface(t *testing.T) {
	t.Setenv("CHARTFLOW_PROVIDER_TIMEOUT", "15s")
	t.Setenv("CHARTFLOW_CALLS_PER_INTERVAL", "9")
	t.Setenv("CHARTFLOW_INTERVAL", "2s")
	t.Setenv("CHARTFLOW_CARRY_OVER", "false")
	t.Setenv("CHARTFLOW_QUEUE_TIMEOUT", "5s")
	t.Setenv("CHARTFLOW_MAX_RETRIES", "1")
	t.Setenv("CHARTFLOW_BACKOFF_BASE", "250ms")
	t.Setenv("CHARTFLOW_MAX_BACKOFF", "4s")
	t.Setenv("CHARTFLOW_IMAGE_PREFIX_BYTES", "512")
	t.Setenv("CHARTFLOW_PROMPT_PREFIX_CHARS", "64")
	t.Setenv("CHARTFLOW_LOG_FORMAT", "console")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 9, cfg.Dispatcher.CallsPerInterval)
	assert.Equal(t, 2*time.Second, cfg.Dispatcher.Interval)
	assert.False(t, cfg.Dispatcher.CarryOver)
	assert.Equal(t, 5*time.Second, cfg.Dispatcher.QueueTimeout)
	assert.Equal(t, 1, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BackoffBase)
	assert.Equal(t, 4*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, 512, cfg.Key.ImagePrefixBytes)
	assert.Equal(t, 64, cfg.Key.PromptPrefixChars)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty model", func(c *Config) { c.Provider.Model = "" }},
		{"zero concurrency", func(c *Config) { c.Dispatcher.MaxConcurrent = 0 }},
		{"zero interval cap", func(c *Config) { c.Dispatcher.CallsPerInterval = 0 }},
		{"zero interval", func(c *Config) { c.Dispatcher.Interval = 0 }},
		{"zero capacity", func(c *Config) { c.Cache.Capacity = 0 }},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }},
		{"zero backoff", func(c *Config) { c.Retry.BackoffBase = 0 }},
		{"zero image prefix", func(c *Config) { c.Key.ImagePrefixBytes = 0 }},
		{"zero prompt prefix", func(c *Config) { c.Key.PromptPrefixChars = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
