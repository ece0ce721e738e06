// Package config loads process configuration from the environment.
//
// Every optional backend is switched off by leaving its address empty: no
// DSN means in-memory stores, no ledger URL means the in-process ledger, and
// so on. A zero-config process is a complete development server.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server   Server
	Log      Log
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Ledger   LedgerConfig
	Metadata MetadataConfig
	Limits   RateLimitConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"PHARMATRACE_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"PHARMATRACE_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	RequestTimeout  time.Duration `env:"PHARMATRACE_REQUEST_TIMEOUT" envDefault:"30s"`
	// AdminToken guards operator routes. Empty disables them.
	AdminToken string `env:"PHARMATRACE_ADMIN_TOKEN"`
	// CatalogFile seeds parties and products at start.
	CatalogFile string `env:"PHARMATRACE_CATALOG_FILE"`
	// SettleInterval drives the background retry of ledger-pending transfers.
	// Zero disables it.
	SettleInterval time.Duration `env:"PHARMATRACE_SETTLE_INTERVAL" envDefault:"1m"`
}

type Log struct {
	Level  string `env:"PHARMATRACE_LOG_LEVEL" envDefault:"info"`
	Format string `env:"PHARMATRACE_LOG_FORMAT" envDefault:"json"`
}

type PostgresConfig struct {
	DSN             string        `env:"PHARMATRACE_POSTGRES_DSN"`
	MaxOpenConns    int           `env:"PHARMATRACE_POSTGRES_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"PHARMATRACE_POSTGRES_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"PHARMATRACE_POSTGRES_CONN_MAX_LIFETIME" envDefault:"30m"`
	// Migrate applies the embedded schema at server start.
	Migrate bool `env:"PHARMATRACE_POSTGRES_MIGRATE" envDefault:"true"`
}

type RedisConfig struct {
	URL           string        `env:"PHARMATRACE_REDIS_URL"`
	PoolSize      int           `env:"PHARMATRACE_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns  int           `env:"PHARMATRACE_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout   time.Duration `env:"PHARMATRACE_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout   time.Duration `env:"PHARMATRACE_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout  time.Duration `env:"PHARMATRACE_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	ProvenanceTTL time.Duration `env:"PHARMATRACE_PROVENANCE_CACHE_TTL" envDefault:"30s"`
}

type KafkaConfig struct {
	Brokers  []string `env:"PHARMATRACE_KAFKA_BROKERS" envSeparator:","`
	Topic    string   `env:"PHARMATRACE_KAFKA_TOPIC" envDefault:"custody-events"`
	ClientID string   `env:"PHARMATRACE_KAFKA_CLIENT_ID" envDefault:"pharmatrace"`
	// Partitions and Replicas are used when the topic has to be created.
	Partitions int32 `env:"PHARMATRACE_KAFKA_PARTITIONS" envDefault:"3"`
	Replicas   int16 `env:"PHARMATRACE_KAFKA_REPLICAS" envDefault:"1"`
}

type LedgerConfig struct {
	URL              string        `env:"PHARMATRACE_LEDGER_URL"`
	Timeout          time.Duration `env:"PHARMATRACE_LEDGER_TIMEOUT" envDefault:"10s"`
	FailureThreshold int           `env:"PHARMATRACE_LEDGER_BREAKER_THRESHOLD" envDefault:"5"`
	Cooldown         time.Duration `env:"PHARMATRACE_LEDGER_BREAKER_COOLDOWN" envDefault:"30s"`
}

// MetadataConfig configures the S3 client behind s3:// content references.
// Static keys are optional; the default AWS credential chain applies
// otherwise.
type MetadataConfig struct {
	Enabled         bool   `env:"PHARMATRACE_METADATA_ENABLED"`
	Region          string `env:"PHARMATRACE_METADATA_S3_REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"PHARMATRACE_METADATA_S3_ENDPOINT"`
	PathStyle       bool   `env:"PHARMATRACE_METADATA_S3_PATH_STYLE"`
	AccessKeyID     string `env:"PHARMATRACE_METADATA_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"PHARMATRACE_METADATA_S3_SECRET_ACCESS_KEY"`
	MaxBytes        int64  `env:"PHARMATRACE_METADATA_MAX_BYTES" envDefault:"1048576"`
}

// RateLimitConfig bounds API requests per calling party. Zero Requests
// disables limiting. Windows are shared through redis when it is configured.
type RateLimitConfig struct {
	Requests int           `env:"PHARMATRACE_RATELIMIT_REQUESTS" envDefault:"600"`
	Window   time.Duration `env:"PHARMATRACE_RATELIMIT_WINDOW" envDefault:"1m"`
}

// FromEnv parses the whole configuration from the process environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("PHARMATRACE_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}
	if c.Metadata.AccessKeyID != "" && c.Metadata.SecretAccessKey == "" {
		return fmt.Errorf("PHARMATRACE_METADATA_S3_SECRET_ACCESS_KEY is required with an access key id")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("PHARMATRACE_KAFKA_TOPIC is required when brokers are set")
	}
	if c.Limits.Requests > 0 && c.Limits.Window <= 0 {
		return fmt.Errorf("PHARMATRACE_RATELIMIT_WINDOW must be positive")
	}
	return nil
}
