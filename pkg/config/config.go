// Package config loads engine configuration from the environment, with
// an optional YAML policy profile overlay.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warden-labs/warden/pkg/contracts"
)

// Config holds engine wiring configuration.
type Config struct {
	ServiceName string
	LogLevel    string

	// StoreDriver selects the workflow store backend: memory, sqlite,
	// or postgres.
	StoreDriver string
	DatabaseURL string

	// RedisAddr enables the atomic escalation window and replay
	// reservations when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// PolicyProfile optionally points at a YAML profile file.
	PolicyProfile string
}

// Load reads configuration from environment variables with development
// defaults.
func Load() *Config {
	cfg := &Config{
		ServiceName:   envOr("SERVICE_NAME", "warden"),
		LogLevel:      envOr("LOG_LEVEL", "INFO"),
		StoreDriver:   envOr("STORE_DRIVER", "sqlite"),
		DatabaseURL:   envOr("DATABASE_URL", "warden.db"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		PolicyProfile: os.Getenv("POLICY_PROFILE"),
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		_, _ = fmt.Sscanf(db, "%d", &cfg.RedisDB)
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Profile is a YAML overlay carrying the default payment policy for
// deployments that tune limits without code changes.
type Profile struct {
	Policy contracts.Policy `yaml:"policy"`
}

// LoadProfile parses a YAML profile file.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: profile read: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("config: profile parse: %w", err)
	}
	return &p, nil
}
