// Package config provides configuration management for the application.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ordzy/sora-webui/internal/constants"
)

const (
	// Default configuration file name
	defaultConfigFile = "config.json"
	// Default database path
	defaultDatabasePath = "./modules.db"
)

// Config holds the application configuration.
// It supports loading from environment variables and JSON files.
type Config struct {
	// Server settings
	Port      string `json:"PORT"`
	ProxyPath string `json:"PROXY_PATH"`

	// User-Agent used upstream when the client neither tunnels one via
	// X-Proxy-User-Agent nor sends one of its own. Kept in config so the
	// fallback is an explicit, documented choice rather than a silent swap.
	FallbackUserAgent string `json:"FALLBACK_USER_AGENT"`

	// Storage settings
	DatabasePath string        `json:"DATABASE_PATH"`
	CacheSize    int           `json:"CACHE_SIZE"`
	CacheTTL     time.Duration `json:"-"`
	CacheTTLHrs  int           `json:"CACHE_TTL_HOURS"`
}

// Load reads configuration from environment variables and an optional JSON
// file. Environment variables take precedence over file values.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              constants.DefaultPort,
		ProxyPath:         constants.DefaultProxyPath,
		FallbackUserAgent: constants.DefaultFallbackUserAgent,
		DatabasePath:      defaultDatabasePath,
		CacheSize:         constants.DefaultCacheSize,
		CacheTTLHrs:       constants.DefaultCacheTTL,
	}

	configFile := getEnvOrDefault("CONFIG_FILE", defaultConfigFile)
	if err := cfg.loadFromFile(configFile); err != nil {
		// Ignore file not found errors
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.CacheTTL = time.Duration(cfg.CacheTTLHrs) * time.Hour

	return cfg, nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Port = port
	}
	if path := os.Getenv("PROXY_PATH"); path != "" {
		c.ProxyPath = path
	}
	if ua := os.Getenv("FALLBACK_USER_AGENT"); ua != "" {
		c.FallbackUserAgent = ua
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.DatabasePath = dbPath
	}
}

// loadFromFile loads configuration from a JSON file.
func (c *Config) loadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, c)
}

// Validate checks if the configuration is valid and fills defaults for
// missing optional fields.
func (c *Config) Validate() error {
	if c.ProxyPath == "" || c.ProxyPath[0] != '/' {
		return fmt.Errorf("PROXY_PATH must be an absolute path, got %q", c.ProxyPath)
	}
	if c.CacheSize <= 0 {
		c.CacheSize = constants.DefaultCacheSize
	}
	if c.CacheTTLHrs <= 0 {
		c.CacheTTLHrs = constants.DefaultCacheTTL
	}
	if c.FallbackUserAgent == "" {
		c.FallbackUserAgent = constants.DefaultFallbackUserAgent
	}
	return nil
}

// getEnvOrDefault returns environment variable value or default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
