// Package config reads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Env string

	// Venue
	VenueID string
	BaseURL string
	Token   string

	// Cache
	CacheDir    string
	MetadataDSN string
	StageDir    string

	// Sync
	BibInvitation string
	PageSize      int
}

// Load reads configuration from environment variables. A missing .env file
// is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:           getEnv("CONFMIRROR_ENV", "development"),
		VenueID:       getEnv("CONFMIRROR_VENUE_ID", ""),
		BaseURL:       getEnv("CONFMIRROR_BASE_URL", ""),
		Token:         getEnv("CONFMIRROR_TOKEN", ""),
		CacheDir:      getEnv("CONFMIRROR_CACHE_DIR", "cache"),
		MetadataDSN:   getEnv("CONFMIRROR_METADATA_DSN", ""),
		StageDir:      getEnv("CONFMIRROR_STAGE_DIR", "custom-stages"),
		BibInvitation: getEnv("CONFMIRROR_BIB_INVITATION", ""),
		PageSize:      getEnvInt("CONFMIRROR_PAGE_SIZE", 0),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.VenueID == "" {
		return fmt.Errorf("CONFMIRROR_VENUE_ID is required")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("CONFMIRROR_CACHE_DIR is required")
	}
	return nil
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}
