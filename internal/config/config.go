// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for both the ETL job and the read API.
// It is loaded once at startup and treated as immutable.
type Config struct {
	// Database
	DatabaseURL string
	SchemaName  string

	// Spotify
	SpotifyID     string
	SpotifySecret string

	// ETL
	HistoryWindow time.Duration // how far back the recently-played fetch reaches
	SpotifyRPS    float64       // upstream request rate limit
	KeepRawTables bool          // skip the raw-table purge during cleanup

	// Server
	ServerAddr string
}

// Load reads the configuration from environment variables.
// Returns an error listing any required variables that are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SpotifyID = os.Getenv("SPOTIFY_ID")
	if cfg.SpotifyID == "" {
		missing = append(missing, "SPOTIFY_ID")
	}

	cfg.SpotifySecret = os.Getenv("SPOTIFY_SECRET")
	if cfg.SpotifySecret == "" {
		missing = append(missing, "SPOTIFY_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.SchemaName = getEnvString("SCHEMA_NAME", "soundlog")
	cfg.HistoryWindow = getEnvDuration("HISTORY_WINDOW", 24*time.Hour)
	cfg.SpotifyRPS = getEnvFloat("SPOTIFY_RPS", 5)
	cfg.KeepRawTables = getEnvBool("KEEP_RAW_TABLES", false)
	cfg.ServerAddr = getEnvString("SERVER_ADDR", "127.0.0.1:8000")

	return cfg, nil
}

// LoadServer is Load without the Spotify credential requirement, for the
// read API which never talks to the upstream.
func LoadServer() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
	}

	cfg.SchemaName = getEnvString("SCHEMA_NAME", "soundlog")
	cfg.ServerAddr = getEnvString("SERVER_ADDR", "127.0.0.1:8000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
