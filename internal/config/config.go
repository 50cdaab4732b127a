package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/ossianwinter/replayd/internal/constants"
	"github.com/ossianwinter/replayd/internal/domain"
)

// Config holds all application configuration
type Config struct {
	Port          string
	DBPath        string
	PlaylistsPath string

	SourceURL    string
	SourceAPIKey string
	SourceUser   string

	ProviderURL   string
	ProviderToken string

	SyncInterval   time.Duration
	RequestsPerSec float64

	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", constants.DefaultPort),
		DBPath:         getEnv("DB_PATH", constants.DefaultDBPath),
		PlaylistsPath:  getEnv("PLAYLISTS_PATH", constants.DefaultPlaylistsPath),
		SourceURL:      getEnv("SOURCE_URL", constants.DefaultSourceURL),
		SourceAPIKey:   getEnv("SOURCE_API_KEY", ""),
		SourceUser:     getEnv("SOURCE_USER", ""),
		ProviderURL:    getEnv("PROVIDER_URL", constants.DefaultProviderURL),
		ProviderToken:  getEnv("PROVIDER_TOKEN", ""),
		SyncInterval:   getEnvDuration("SYNC_INTERVAL", constants.DefaultSyncInterval),
		RequestsPerSec: getEnvFloat("REQUESTS_PER_SEC", constants.DefaultRequestsPerSec),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
	}
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errors []string

	if c.Port == "" {
		errors = append(errors, "PORT cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("PORT must be a valid number, got: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be between 1 and 65535, got: %d", port))
		}
	}

	if c.DBPath == "" {
		errors = append(errors, "DB_PATH cannot be empty")
	}

	for name, raw := range map[string]string{"SOURCE_URL": c.SourceURL, "PROVIDER_URL": c.ProviderURL} {
		if raw == "" {
			errors = append(errors, name+" cannot be empty")
		} else if _, err := url.ParseRequestURI(raw); err != nil {
			errors = append(errors, fmt.Sprintf("%s is not a valid URL: %s", name, raw))
		}
	}

	if c.SourceAPIKey == "" {
		errors = append(errors, "SOURCE_API_KEY cannot be empty")
	}
	if c.SourceUser == "" {
		errors = append(errors, "SOURCE_USER cannot be empty")
	}

	if c.SyncInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("SYNC_INTERVAL must be at least 1m, got: %s", c.SyncInterval))
	}
	if c.RequestsPerSec <= 0 {
		errors = append(errors, fmt.Sprintf("REQUESTS_PER_SEC must be positive, got: %g", c.RequestsPerSec))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}

type playlistsFile struct {
	Playlist []domain.PlaylistDefinition `toml:"playlist"`
}

// LoadPlaylists reads playlist definitions from a TOML file and fills in
// defaults for omitted selection parameters.
func LoadPlaylists(path string) ([]domain.PlaylistDefinition, error) {
	var file playlistsFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to read playlist config %s: %w", path, err)
	}

	seen := make(map[domain.PlaylistType]bool)
	for i := range file.Playlist {
		def := &file.Playlist[i]

		switch def.Type {
		case domain.PlaylistMostPlayed, domain.PlaylistRecentFavorites, domain.PlaylistBinged:
		default:
			return nil, fmt.Errorf("playlist %d: unknown type %q", i, def.Type)
		}
		if seen[def.Type] {
			return nil, fmt.Errorf("playlist type %q defined twice", def.Type)
		}
		seen[def.Type] = true

		if def.ExternalID == "" {
			return nil, fmt.Errorf("playlist %q: external_id is required", def.Type)
		}
		if def.Size <= 0 {
			def.Size = constants.DefaultPlaylistSize
		}
		if def.WindowDays <= 0 {
			def.WindowDays = constants.DefaultFavoritesWindow
		}
		if def.MinDailyPlays <= 0 {
			def.MinDailyPlays = constants.DefaultBingeMinPlays
		}
	}

	return file.Playlist, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
