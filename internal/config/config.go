// Package config provides configuration management for the explorer services.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration shared by the web server and the generator.
type Config struct {
	// Server settings
	ListenAddr string `yaml:"listen_addr"`

	// Database settings. DatabaseURL wins when set; otherwise the
	// individual POSTGRES_* values are assembled into a URL.
	DatabaseURL      string `yaml:"database_url"`
	PostgresHostname string `yaml:"postgres_hostname"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`

	// Catalog settings
	IndexDriver string `yaml:"index_driver"`

	// Summary settings
	DefaultTimezone string `yaml:"default_timezone"`
	DefaultEPSG     int    `yaml:"default_epsg"`

	// API limits
	DefaultAPILimit int `yaml:"default_api_limit"`
	HardAPILimit    int `yaml:"hard_api_limit"`

	// CORS for /api and /stac
	EnableCORS bool `yaml:"enable_cors"`
}

// Load reads configuration from environment variables with sensible
// defaults, then applies overrides from the optional YAML settings file
// named by CUBEDASH_SETTINGS.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: getEnv("CUBEDASH_LISTEN_ADDR", ":8080"),

		DatabaseURL:      getEnv("ODC_DEFAULT_DB_URL", ""),
		PostgresHostname: getEnv("POSTGRES_HOSTNAME", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "datacube"),

		IndexDriver: getEnv("ODC_DEFAULT_INDEX_DRIVER", "postgres"),

		DefaultTimezone: getEnv("CUBEDASH_DEFAULT_TIMEZONE", "Australia/Darwin"),
		DefaultEPSG:     getEnvInt("CUBEDASH_DEFAULT_EPSG", 6933),

		DefaultAPILimit: getEnvInt("CUBEDASH_DEFAULT_API_LIMIT", 500),
		HardAPILimit:    getEnvInt("CUBEDASH_HARD_API_LIMIT", 4000),

		EnableCORS: getEnvBool("CUBEDASH_CORS", true),
	}

	if path := os.Getenv("CUBEDASH_SETTINGS"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse settings file %s: %w", path, err)
		}
	}

	return cfg, nil
}

// ConnectionURL returns the database URL to connect with, assembling one
// from the POSTGRES_* parts when no explicit URL was configured.
func (c *Config) ConnectionURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   c.PostgresHostname + ":" + c.PostgresPort,
		Path:   "/" + c.PostgresDB,
	}
	if c.PostgresUser != "" {
		if c.PostgresPassword != "" {
			u.User = url.UserPassword(c.PostgresUser, c.PostgresPassword)
		} else {
			u.User = url.User(c.PostgresUser)
		}
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
