// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`
	// DBDir is the directory holding the JSON snapshot files
	// (users.json, servers.json, stats.json).
	DBDir string `env:"DB_DIR" envDefault:"db"`
	// SnapshotInterval: how often the persistence snapshot is written.
	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"3s"`
	// SweepInterval: how often the prompt index is swept for stale entries.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"10s"`
	// PromptStaleAfter: a prompt with no activity for this long is evicted.
	PromptStaleAfter time.Duration `env:"PROMPT_STALE_AFTER" envDefault:"600s"`
	// WorkerStaleAfter: a worker with no check-in for this long is ignored
	// by the matcher. Never persisted; staleness is computed on read.
	WorkerStaleAfter time.Duration `env:"WORKER_STALE_AFTER" envDefault:"300s"`
	// UptimeRewardThreshold: accumulated uptime between uptime-kudos grants.
	UptimeRewardThreshold time.Duration `env:"UPTIME_REWARD_THRESHOLD" envDefault:"600s"`
	AllowAnonymous        bool          `env:"ALLOW_ANONYMOUS" envDefault:"true"`
	// RegistryBaseURL is the external model registry consulted for model
	// parameter counts (kudos multipliers).
	RegistryBaseURL string        `env:"MODEL_REGISTRY_BASE_URL" envDefault:"https://huggingface.co"`
	RegistryTimeout time.Duration `env:"MODEL_REGISTRY_TIMEOUT" envDefault:"30s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ai-text-broker"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
