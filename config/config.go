// Package config loads chartflow configuration.
//
// Precedence follows the usual layering: built-in defaults, then the YAML
// file, then CHARTFLOW_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface of the orchestration layer.
type Config struct {
	// Provider configures the remote inference collaborator.
	Provider ProviderConfig `yaml:"provider"`
	// Dispatcher bounds throughput towards the provider.
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	// Cache bounds the in-process response cache.
	Cache CacheConfig `yaml:"cache"`
	// Retry governs transient-failure recovery.
	Retry RetryConfig `yaml:"retry"`
	// Key bounds how much request content feeds the cache key.
	Key KeyConfig `yaml:"key"`
	// Log configures zap output.
	Log LogConfig `yaml:"log"`
}

// ProviderConfig identifies the remote vision model endpoint.
type ProviderConfig struct {
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DispatcherConfig bounds call concurrency and per-interval throughput.
type DispatcherConfig struct {
	// MaxConcurrent is the ceiling on concurrently executing remote calls.
	MaxConcurrent int `yaml:"max_concurrent"`
	// CallsPerInterval caps admissions per Interval.
	CallsPerInterval int `yaml:"calls_per_interval"`
	// Interval is the throughput accounting window.
	Interval time.Duration `yaml:"interval"`
	// CarryOver lets unused capacity smooth bursts across intervals.
	CarryOver bool `yaml:"carry_over"`
	// QueueTimeout bounds how long a task may wait for admission.
	QueueTimeout time.Duration `yaml:"queue_timeout"`
}

// CacheConfig bounds the response cache.
type CacheConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// RetryConfig governs exponential backoff on transient remote failures.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// KeyConfig bounds the content prefixes hashed into cache keys.
type KeyConfig struct {
	ImagePrefixBytes  int `yaml:"image_prefix_bytes"`
	PromptPrefixChars int `yaml:"prompt_prefix_chars"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Model:   "gemini-2.5-flash",
			BaseURL: "https://generativelanguage.googleapis.com",
			Timeout: 60 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			MaxConcurrent:    1,
			CallsPerInterval: 5,
			Interval:         time.Second,
			CarryOver:        true,
			QueueTimeout:     30 * time.Second,
		},
		Cache: CacheConfig{
			Capacity: 100,
			TTL:      time.Hour,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BackoffBase: time.Second,
			MaxBackoff:  30 * time.Second,
		},
		Key: KeyConfig{
			ImagePrefixBytes:  1000,
			PromptPrefixChars: 200,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from an optional YAML file and the environment.
// An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString("CHARTFLOW_API_KEY", &c.Provider.APIKey)
	envString("CHARTFLOW_MODEL", &c.Provider.Model)
	envString("CHARTFLOW_BASE_URL", &c.Provider.BaseURL)
	envDuration("CHARTFLOW_PROVIDER_TIMEOUT", &c.Provider.Timeout)

	envInt("CHARTFLOW_MAX_CONCURRENT", &c.Dispatcher.MaxConcurrent)
	envInt("CHARTFLOW_CALLS_PER_INTERVAL", &c.Dispatcher.CallsPerInterval)
	envDuration("CHARTFLOW_INTERVAL", &c.Dispatcher.Interval)
	envBool("CHARTFLOW_CARRY_OVER", &c.Dispatcher.CarryOver)
	envDuration("CHARTFLOW_QUEUE_TIMEOUT", &c.Dispatcher.QueueTimeout)

	envInt("CHARTFLOW_CACHE_CAPACITY", &c.Cache.Capacity)
	envDuration("CHARTFLOW_CACHE_TTL", &c.Cache.TTL)

	envInt("CHARTFLOW_MAX_RETRIES", &c.Retry.MaxRetries)
	envDuration("CHARTFLOW_BACKOFF_BASE", &c.Retry.BackoffBase)
	envDuration("CHARTFLOW_MAX_BACKOFF", &c.Retry.MaxBackoff)

	envInt("CHARTFLOW_IMAGE_PREFIX_BYTES", &c.Key.ImagePrefixBytes)
	envInt("CHARTFLOW_PROMPT_PREFIX_CHARS", &c.Key.PromptPrefixChars)

	envString("CHARTFLOW_LOG_LEVEL", &c.Log.Level)
	envString("CHARTFLOW_LOG_FORMAT", &c.Log.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate rejects configurations the orchestration layer cannot run with.
func (c *Config) Validate() error {
	if c.Provider.Model == "" {
		return fmt.Errorf("config: provider.model is required")
	}
	if c.Dispatcher.MaxConcurrent < 1 {
		return fmt.Errorf("config: dispatcher.max_concurrent must be >= 1")
	}
	if c.Dispatcher.CallsPerInterval < 1 {
		return fmt.Errorf("config: dispatcher.calls_per_interval must be >= 1")
	}
	if c.Dispatcher.Interval <= 0 {
		return fmt.Errorf("config: dispatcher.interval must be positive")
	}
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("config: cache.capacity must be >= 1")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("config: retry.max_retries must be >= 0")
	}
	if c.Retry.BackoffBase <= 0 {
		return fmt.Errorf("config: retry.backoff_base must be positive")
	}
	if c.Key.ImagePrefixBytes < 1 {
		return fmt.Errorf("config: key.image_prefix_bytes must be >= 1")
	}
	if c.Key.PromptPrefixChars < 1 {
		return fmt.Errorf("config: key.prompt_prefix_chars must be >= 1")
	}
	return nil
}
