package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	BaseURL       string `env:"BASE_URL,default=https://certpipe.dev"`
	StorageBucket string `env:"STORAGE_BUCKET,required=true"`

	SMTPHost     string `env:"SMTP_HOST,required=true"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	EmailFrom    string `env:"EMAIL_FROM,default=noreply@certpipe.dev"`
	SupportEmail string `env:"SUPPORT_EMAIL"`

	// Provider-wide ceilings, kept below the sending provider's hard limits
	// to leave headroom.
	ProviderRatePerSec int `env:"PROVIDER_RATE_PER_SEC,default=10"`
	ProviderRatePerDay int `env:"PROVIDER_RATE_PER_DAY,default=50000"`

	// Defaults applied to accounts without explicit limits.
	UserRatePerSec int `env:"USER_RATE_PER_SEC,default=5"`
	UserRatePerDay int `env:"USER_RATE_PER_DAY,default=10000"`

	ChunkSize         int `env:"CHUNK_SIZE,default=100"`
	RecordConcurrency int `env:"RECORD_CONCURRENCY,default=10"`
	ChunkConcurrency  int `env:"CHUNK_CONCURRENCY,default=5"`
	EmailConcurrency  int `env:"EMAIL_CONCURRENCY,default=5"`
	ChunkMaxAttempts  int `env:"CHUNK_MAX_ATTEMPTS,default=3"`
	EmailMaxAttempts  int `env:"EMAIL_MAX_ATTEMPTS,default=5"`

	SchedulerIntervalSec int `env:"SCHEDULER_INTERVAL_SEC,default=60"`
	ProgressPollSec      int `env:"PROGRESS_POLL_SEC,default=2"`

	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9090"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
