package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds Postgres connection and pool configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns          int32
	MinConns          int32
	MaxConnIdleTime   time.Duration
	MaxConnLifetime   time.Duration
	HealthCheckPeriod time.Duration
}

// LoadConfigFromEnv loads Config from environment variables, applying the
// production defaults (MaxConns >= 20, idle timeout >= 600s).
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	maxConns, err := strconv.Atoi(getEnvOrDefault("DB_MAX_CONNS", "20"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}
	minConns, err := strconv.Atoi(getEnvOrDefault("DB_MIN_CONNS", "2"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}
	idleTime, err := time.ParseDuration(getEnvOrDefault("DB_MAX_CONN_IDLE_TIME", "600s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_CONN_IDLE_TIME: %w", err)
	}
	lifetime, err := time.ParseDuration(getEnvOrDefault("DB_MAX_CONN_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_CONN_LIFETIME: %w", err)
	}
	healthPeriod, err := time.ParseDuration(getEnvOrDefault("DB_HEALTH_CHECK_PERIOD", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_HEALTH_CHECK_PERIOD: %w", err)
	}

	cfg := Config{
		Host:              getEnvOrDefault("DB_HOST", "localhost"),
		Port:              port,
		User:              getEnvOrDefault("DB_USER", "nietest"),
		Password:          os.Getenv("DB_PASSWORD"),
		Database:          getEnvOrDefault("DB_NAME", "nietest"),
		SSLMode:           getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxConns:          int32(maxConns),
		MinConns:          int32(minConns),
		MaxConnIdleTime:   idleTime,
		MaxConnLifetime:   lifetime,
		HealthCheckPeriod: healthPeriod,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against the production resource floor.
func (c Config) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.MaxConns < 20 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 20, got %d", c.MaxConns)
	}
	if c.MaxConnIdleTime < 600*time.Second {
		return fmt.Errorf("DB_MAX_CONN_IDLE_TIME must be at least 600s, got %s", c.MaxConnIdleTime)
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

// DSN builds a libpq-style connection string for golang-migrate and
// database/sql (the pgx stdlib driver).
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
