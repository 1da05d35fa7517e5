// Package config loads application settings from YAML and holds the
// credentials file shared with the source and destination APIs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Database struct {
		DSN string `yaml:"dsn" json:"dsn" jsonschema:"default=file:pocket.db?cache=shared&mode=rwc,description=Database connection string"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Pocket struct {
		BaseURL    string        `yaml:"base_url" json:"base_url" jsonschema:"default=https://getpocket.com,description=Pocket API base URL"`
		PageSize   int           `yaml:"page_size" json:"page_size" jsonschema:"default=50,minimum=10,description=Items requested per API page"`
		Sleep      time.Duration `yaml:"sleep" json:"sleep" jsonschema:"default=2s,description=Pause between API pages"`
		RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" jsonschema:"default=3s,description=Base delay for retrying busy responses"`
		Timeout    time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP request timeout"`
	} `yaml:"pocket" json:"pocket" jsonschema:"description=Pocket API configuration"`

	Karakeep struct {
		BaseURL    string        `yaml:"base_url" json:"base_url" jsonschema:"default=https://try.karakeep.app,description=Karakeep API base URL"`
		RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" jsonschema:"default=3s,description=Base delay for retrying rate-limited requests"`
	} `yaml:"karakeep" json:"karakeep" jsonschema:"description=Karakeep API configuration"`
}

// Default returns a config with every field at its default value.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.setDefaults()

	if cfg.Pocket.PageSize < 10 {
		return nil, fmt.Errorf("pocket.page_size must be at least 10, got %d", cfg.Pocket.PageSize)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Database.DSN == "" {
		c.Database.DSN = "file:pocket.db?cache=shared&mode=rwc&_txlock=immediate"
	}

	if c.Pocket.BaseURL == "" {
		c.Pocket.BaseURL = "https://getpocket.com"
	}
	if c.Pocket.PageSize == 0 {
		c.Pocket.PageSize = 50
	}
	if c.Pocket.Sleep == 0 {
		c.Pocket.Sleep = 2 * time.Second
	}
	if c.Pocket.RetryDelay == 0 {
		c.Pocket.RetryDelay = 3 * time.Second
	}
	if c.Pocket.Timeout == 0 {
		c.Pocket.Timeout = 30 * time.Second
	}

	if c.Karakeep.BaseURL == "" {
		c.Karakeep.BaseURL = "https://try.karakeep.app"
	}
	if c.Karakeep.RetryDelay == 0 {
		c.Karakeep.RetryDelay = 3 * time.Second
	}
}
