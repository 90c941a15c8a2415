// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string

	// LockTimeout, StrongLifetime, SoftLifetime, PingInterval, GraceWindow,
	// and SoftCapacity seed the delivery.Config used by every session the
	// registry creates.
	LockTimeout    time.Duration
	StrongLifetime time.Duration
	SoftLifetime   time.Duration
	PingInterval   time.Duration
	GraceWindow    time.Duration
	SoftCapacity   int

	// ReapInterval is how often the scheduler goroutine calls Registry.Reap;
	// Registry.ForEachTick runs on its own PingInterval ticker.
	ReapInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	softCapacity := getEnvInt("DELIVERY_SOFT_CAPACITY", 256)
	if softCapacity <= 0 {
		softCapacity = 256
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		LockTimeout:    getEnvDuration("DELIVERY_LOCK_TIMEOUT", 250*time.Millisecond),
		StrongLifetime: getEnvDuration("DELIVERY_STRONG_LIFETIME", 30*time.Second),
		SoftLifetime:   getEnvDuration("DELIVERY_SOFT_LIFETIME", 5*time.Minute),
		PingInterval:   getEnvDuration("DELIVERY_PING_INTERVAL", 15*time.Second),
		GraceWindow:    getEnvDuration("DELIVERY_GRACE_WINDOW", 60*time.Second),
		SoftCapacity:   softCapacity,
		ReapInterval:   getEnvDuration("DELIVERY_REAP_INTERVAL", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and
// internally consistent.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("DELIVERY_LOCK_TIMEOUT must be > 0")
	}
	if c.StrongLifetime <= 0 {
		return fmt.Errorf("DELIVERY_STRONG_LIFETIME must be > 0")
	}
	if c.SoftLifetime < c.StrongLifetime {
		return fmt.Errorf("DELIVERY_SOFT_LIFETIME must be >= DELIVERY_STRONG_LIFETIME")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("DELIVERY_PING_INTERVAL must be > 0")
	}
	if c.GraceWindow <= 0 {
		return fmt.Errorf("DELIVERY_GRACE_WINDOW must be > 0")
	}
	if c.SoftCapacity <= 0 {
		return fmt.Errorf("DELIVERY_SOFT_CAPACITY must be > 0")
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("DELIVERY_REAP_INTERVAL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
