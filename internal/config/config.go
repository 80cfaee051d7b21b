// Package config centralizes runtime configuration for vcm. It loads a
// JSON configuration file and exposes a process-wide configuration with
// sensible defaults. Tests and development builds use defaults when the
// file is not present. Operators point the service at a file with the
// --config flag or the VCM_CONFIG env var.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvConfigFile names the env var consulted when no --config flag is given.
const EnvConfigFile = "VCM_CONFIG"

// Config holds configurable options for the vcm service.
type Config struct {
	Port            int    `json:"port"`
	DataDir         string `json:"data_dir"`
	StoreBackend    string `json:"store_backend"`
	StorePath       string `json:"store_path"`
	Difficulty      *int   `json:"difficulty,omitempty"`
	BatchSize       int    `json:"batch_size"`
	SolveTimeout    string `json:"solve_timeout"`
	HashVoterIDs    bool   `json:"hash_voter_ids"`
	VoterSalt       string `json:"voter_salt"`
	MaxBackups      int    `json:"max_backups"`
	LogLevel        string `json:"log_level"`
	DocsDir         string `json:"docs_dir"`
	ResultsCacheTTL string `json:"results_cache_ttl"`

	// Per-host cap on POST requests, in requests per second. 0 disables it.
	WriteRateLimit float64 `json:"write_rate_limit"`
	WriteRateBurst int     `json:"write_rate_burst"`
}

const (
	defaultDifficulty = 4
	defaultPort       = 8080
)

var cfg *Config

func defaults() *Config {
	d := defaultDifficulty
	return &Config{
		Port:            defaultPort,
		DataDir:         "data",
		StoreBackend:    "sqlite",
		StorePath:       "",
		Difficulty:      &d,
		BatchSize:       1,
		SolveTimeout:    "0s",
		HashVoterIDs:    false,
		VoterSalt:       "",
		MaxBackups:      20,
		LogLevel:        "info",
		DocsDir:         "docs",
		ResultsCacheTTL: "30s",
		WriteRateLimit:  5,
		WriteRateBurst:  10,
	}
}

// LoadConfig reads a JSON file at path. A missing file yields defaults and
// no error so the service runs in development with minimal friction; a file
// that exists but cannot be parsed is an error.
func LoadConfig(path string) (*Config, error) {
	def := defaults()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		cfg = def
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = def
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Rate fields treat an explicit 0 as "off", so seed them before decoding.
	c := Config{WriteRateLimit: def.WriteRateLimit, WriteRateBurst: def.WriteRateBurst}
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// merge defaults for any zero-value fields
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.StoreBackend == "" {
		c.StoreBackend = def.StoreBackend
	}
	if c.Difficulty == nil {
		c.Difficulty = def.Difficulty
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.SolveTimeout == "" {
		c.SolveTimeout = def.SolveTimeout
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = def.MaxBackups
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.DocsDir == "" {
		c.DocsDir = def.DocsDir
	}
	if c.ResultsCacheTTL == "" {
		c.ResultsCacheTTL = def.ResultsCacheTTL
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	cfg = &c
	return cfg, nil
}

// Validate checks ranges and duration strings.
func (c *Config) Validate() error {
	if d := c.DifficultyValue(); d < 0 || d > 64 {
		return fmt.Errorf("difficulty %d out of range [0,64]", d)
	}
	if _, err := time.ParseDuration(c.SolveTimeout); err != nil {
		return fmt.Errorf("solve_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.ResultsCacheTTL); err != nil {
		return fmt.Errorf("results_cache_ttl: %w", err)
	}
	if c.WriteRateLimit < 0 || c.WriteRateBurst < 0 {
		return fmt.Errorf("write_rate_limit and write_rate_burst must not be negative")
	}
	return nil
}

// DifficultyValue returns the configured difficulty or the default.
func (c *Config) DifficultyValue() int {
	if c.Difficulty == nil {
		return defaultDifficulty
	}
	return *c.Difficulty
}

// SolveTimeoutDuration returns the per-block proof search deadline, zero for none.
func (c *Config) SolveTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.SolveTimeout)
	return d
}

// ResultsCacheDuration returns how long computed results are cached.
func (c *Config) ResultsCacheDuration() time.Duration {
	d, _ := time.ParseDuration(c.ResultsCacheTTL)
	return d
}

// ResolvePort prefers the PORT env var over the configured port.
func (c *Config) ResolvePort() int {
	if raw := os.Getenv("PORT"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 && p < 65536 {
			return p
		}
	}
	return c.Port
}

// Get returns the loaded configuration. If LoadConfig hasn't been called
// yet, it returns defaults.
func Get() *Config {
	if cfg == nil {
		cfg = defaults()
	}
	return cfg
}
