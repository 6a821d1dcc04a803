// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	window := cfg.Matching.DateWindowDays
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Scoring       ScoringConfig       `yaml:"scoring"`
	Matching      MatchingConfig      `yaml:"matching"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ScoringConfig holds confidence scoring thresholds
type ScoringConfig struct {
	// MatchThreshold is the minimum merchant similarity (0-100) for a
	// catalog candidate to count as a match.
	MatchThreshold int `yaml:"match_threshold"`
	// AutoApplyTier is the lowest tier at which classifications are
	// applied without review: "high" or "medium".
	AutoApplyTier string `yaml:"auto_apply_tier"`
}

// MatchingConfig holds receipt matching tolerances
type MatchingConfig struct {
	DateWindowDays    int     `yaml:"date_window_days"`
	AmountTolerance   float64 `yaml:"amount_tolerance"`
	RelativeTolerance float64 `yaml:"relative_tolerance"`
	AutoLinkThreshold int     `yaml:"auto_link_threshold"`
}

// APIConfig holds HTTP server settings
type APIConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RECKON_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := &Config{
		Storage: StorageConfig{
			DatabasePath: getEnv("RECKON_DB_PATH", "reckon.db"),
		},
		Scoring: ScoringConfig{
			MatchThreshold: getEnvInt("RECKON_MATCH_THRESHOLD", 60),
			AutoApplyTier:  getEnv("RECKON_AUTO_APPLY_TIER", "high"),
		},
		Matching: MatchingConfig{
			DateWindowDays:    getEnvInt("RECKON_DATE_WINDOW_DAYS", 3),
			AmountTolerance:   0.10,
			RelativeTolerance: 0.05,
			AutoLinkThreshold: getEnvInt("RECKON_AUTO_LINK_THRESHOLD", 60),
		},
		API: APIConfig{
			Port: getEnvInt("RECKON_API_PORT", 8080),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from the specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// applyDefaults fills zero values with sensible defaults
func (c *Config) applyDefaults() {
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "reckon.db"
	}
	if c.Scoring.MatchThreshold == 0 {
		c.Scoring.MatchThreshold = 60
	}
	if c.Scoring.AutoApplyTier == "" {
		c.Scoring.AutoApplyTier = "high"
	}
	if c.Matching.DateWindowDays == 0 {
		c.Matching.DateWindowDays = 3
	}
	if c.Matching.AmountTolerance == 0 {
		c.Matching.AmountTolerance = 0.10
	}
	if c.Matching.RelativeTolerance == 0 {
		c.Matching.RelativeTolerance = 0.05
	}
	if c.Matching.AutoLinkThreshold == 0 {
		c.Matching.AutoLinkThreshold = 60
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}
