// Package config loads the orchestrator's YAML configuration, with
// environment-variable expansion and per-domain defaults, directly adapted
// split across a loader, a defaults table, and a validator.
package config

import "time"

// Config is the top-level orchestrator configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Admission  AdmissionConfig  `yaml:"admission"`
	ImageAPI   ImageAPIConfig   `yaml:"image_api"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Auth       AuthConfig       `yaml:"auth"`
}

// HTTPConfig controls the API server's listen address and request timeouts.
type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	SubmitTimeout  time.Duration `yaml:"submit_timeout"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
}

// DatabaseConfig controls Postgres connectivity; mirrors database.Config.
type DatabaseConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	Database          string        `yaml:"database"`
	SSLMode           string        `yaml:"ssl_mode"`
	MaxConns          int32         `yaml:"max_conns"`
	MinConns          int32         `yaml:"min_conns"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period"`
}

// RedisConfig controls the shared broker connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Cluster  bool   `yaml:"cluster"`
}

// QueueConfig controls the subtask worker pools: worker counts and timeouts,
// generalized to the two logical queue partitions.
type QueueConfig struct {
	NormalWorkerCount int           `yaml:"normal_worker_count"`
	OpsWorkerCount    int           `yaml:"ops_worker_count"`
	MaxRetries        int           `yaml:"max_retries"`
	PollTimeout       time.Duration `yaml:"poll_timeout"`
	SubtaskTimeout    time.Duration `yaml:"subtask_timeout"`
	LuminaTimeout     time.Duration `yaml:"lumina_timeout"`
}

// AdmissionConfig holds admission timing settings. The admission controller
// does not read them; it uses the admission package's PollInterval, MaxWait
// and RecentWindow constants.
type AdmissionConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"`
	RecentWindow time.Duration `yaml:"recent_window"`
}

// ImageAPIConfig points at the upstream image-generation service.
type ImageAPIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// WebhookConfig controls best-effort task/subtask event delivery.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// AuthConfig controls the bearer-token login endpoint.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	OperatorUser  string        `yaml:"operator_user"`
	OperatorPass  string        `yaml:"operator_pass"`
}
