package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration for the mindframe CLI.
// Fields are pointers so a partial file leaves the rest at their defaults;
// use the Get* methods to read effective values.
type Config struct {
	DBPath                 *string `json:"db_path,omitempty"`
	AnalyticsRetentionDays *int    `json:"analytics_retention_days,omitempty"`
	MoodTrendDays          *int    `json:"mood_trend_days,omitempty"`
	DebugListen            *string `json:"debug_listen,omitempty"`
}

const (
	defaultDBPath                 = "mindframe.db"
	defaultAnalyticsRetentionDays = 90
	defaultMoodTrendDays          = 30
	defaultDebugListen            = "localhost:8090"

	maxFileSize = 1 * 1024 * 1024 // 1MB
)

// EmptyConfig returns a Config with all fields unset.
func EmptyConfig() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file.
// The file must have a .json extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *Config) Validate() error {
	if c.DBPath != nil && *c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.AnalyticsRetentionDays != nil && *c.AnalyticsRetentionDays < 1 {
		return fmt.Errorf("analytics_retention_days must be at least 1, got %d", *c.AnalyticsRetentionDays)
	}
	if c.MoodTrendDays != nil && (*c.MoodTrendDays < 1 || *c.MoodTrendDays > 366) {
		return fmt.Errorf("mood_trend_days must be between 1 and 366, got %d", *c.MoodTrendDays)
	}
	return nil
}

// GetDBPath returns the database file path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return defaultDBPath
	}
	return *c.DBPath
}

// GetAnalyticsRetention returns how long analytics events are kept.
func (c *Config) GetAnalyticsRetention() time.Duration {
	days := defaultAnalyticsRetentionDays
	if c.AnalyticsRetentionDays != nil {
		days = *c.AnalyticsRetentionDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// GetMoodTrendDays returns the default mood trend window.
func (c *Config) GetMoodTrendDays() int {
	if c.MoodTrendDays == nil {
		return defaultMoodTrendDays
	}
	return *c.MoodTrendDays
}

// GetDebugListen returns the listen address of the debug server.
func (c *Config) GetDebugListen() string {
	if c.DebugListen == nil {
		return defaultDebugListen
	}
	return *c.DebugListen
}
