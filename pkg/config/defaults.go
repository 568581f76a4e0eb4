package config

import "time"

// Default returns the built-in configuration defaults, overridden by any
// field present in a loaded YAML document.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:          ":8080",
			SubmitTimeout: 300 * time.Second,
			PollTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, User: "nietest", Database: "nietest",
			SSLMode: "disable", MaxConns: 20, MinConns: 2,
			MaxConnIdleTime: 600 * time.Second, MaxConnLifetime: time.Hour,
			HealthCheckPeriod: 30 * time.Second,
		},
		Redis: RedisConfig{Addr: "localhost:6379", DB: 0},
		Queue: QueueConfig{
			NormalWorkerCount: 5, OpsWorkerCount: 5, MaxRetries: 0,
			PollTimeout: 2 * time.Second, SubtaskTimeout: 5 * time.Minute, LuminaTimeout: 10 * time.Minute,
		},
		Admission: AdmissionConfig{
			PollInterval: 30 * time.Second, MaxWait: time.Hour, RecentWindow: 10 * time.Minute,
		},
		ImageAPI: ImageAPIConfig{
			SubmitTimeout: 300 * time.Second, PollInterval: 3 * time.Second, MaxAttempts: 60,
		},
		Webhook: WebhookConfig{Enabled: false},
		Auth: AuthConfig{
			TokenTTL: time.Hour, OperatorUser: "operator",
		},
	}
}
