// Package config holds the quarry worker configuration, loaded once from
// environment variables at startup and passed by reference to every
// component that needs it.
package config

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config files for
// details on available environment variables:
//   - database.go: PostgreSQL and Redis configuration
//   - worker.go: dispatcher and log shipping configuration
type AppConfig struct {
	// IsDev controls development mode behavior (human-readable log output).
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Worker configuration
	Worker  WorkerConfig  `envPrefix:"WORKER_"`
	LogShip LogShipConfig `envPrefix:"LOGSHIP_"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Worker.Sanitize()
	c.LogShip.Sanitize()
	c.Observability.Sanitize()
}
