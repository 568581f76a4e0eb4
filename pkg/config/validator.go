package config

import "fmt"

// Validate checks cross-field invariants the YAML merge cannot enforce by
// itself (e.g. the production Postgres pool floor).
func Validate(cfg *Config) error {
	if cfg.Database.MaxConns < 20 {
		return fmt.Errorf("database.max_conns must be at least 20, got %d", cfg.Database.MaxConns)
	}
	if cfg.Database.Password == "" {
		return fmt.Errorf("database.password is required")
	}
	if cfg.Queue.NormalWorkerCount < 1 || cfg.Queue.OpsWorkerCount < 1 {
		return fmt.Errorf("queue worker counts must be at least 1")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if cfg.Auth.OperatorPass == "" {
		return fmt.Errorf("auth.operator_pass is required")
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL == "" {
		return fmt.Errorf("webhook.url is required when webhook.enabled is true")
	}
	return nil
}
