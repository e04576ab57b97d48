package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type Config struct {
	Addr       string        `yaml:"addr"`
	DebounceMS int           `yaml:"debounce_ms"`
	HistoryDSN string        `yaml:"history_dsn"`
	Shopify    BackendConfig `yaml:"shopify"`
	Square     BackendConfig `yaml:"square"`
	// SquareLookupsPerSecond paces the per-sku inventory fan-out. Zero means
	// unpaced.
	SquareLookupsPerSecond float64 `yaml:"square_lookups_per_second"`
}

func Load(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	cfg := &Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filename, err)
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

// FromEnv builds a config without a yaml file, for deployments that only set
// environment variables.
func FromEnv() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	c.Addr = envOrDefault("SHELFSYNC_ADDR", c.Addr)
	c.HistoryDSN = envOrDefault("SHELFSYNC_HISTORY_DSN", c.HistoryDSN)
	c.Shopify.BaseURL = envOrDefault("SHELFSYNC_SHOPIFY_BASE_URL", c.Shopify.BaseURL)
	c.Shopify.Token = envOrDefault("SHELFSYNC_SHOPIFY_TOKEN", c.Shopify.Token)
	c.Square.BaseURL = envOrDefault("SHELFSYNC_SQUARE_BASE_URL", c.Square.BaseURL)
	c.Square.Token = envOrDefault("SHELFSYNC_SQUARE_TOKEN", c.Square.Token)
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.DebounceMS <= 0 {
		c.DebounceMS = 100
	}
}

func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// Holder is an atomically swappable config reference. The watcher replaces
// it on reload; token providers read through it so rotated credentials take
// effect on the next request.
type Holder struct {
	value atomic.Value
}

func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.Store(cfg)
	return h
}

func (h *Holder) Store(cfg *Config) {
	if cfg == nil {
		return
	}
	h.value.Store(cfg)
}

func (h *Holder) Load() *Config {
	cfg, _ := h.value.Load().(*Config)
	return cfg
}
