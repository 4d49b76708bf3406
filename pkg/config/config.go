// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Search, Ingestion, Redis, Postgres, Kafka, Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Search    SearchConfig    `yaml:"search"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Redis     RedisConfig     `yaml:"redis"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Notify    NotifyConfig    `yaml:"notify"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SearchConfig locates the Elasticsearch service and bounds each request.
type SearchConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Scheme         string        `yaml:"scheme"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// Address returns the base URL of the search service.
func (s SearchConfig) Address() string {
	return fmt.Sprintf("%s://%s:%d", s.Scheme, s.Host, s.Port)
}

// IngestionConfig controls where documents come from, where they go, and how
// many submissions the pipelined driver keeps in flight.
type IngestionConfig struct {
	SourcePath  string        `yaml:"sourcePath"`
	Index       string        `yaml:"index"`
	Category    string        `yaml:"category"`
	FanOut      int           `yaml:"fanOut"`
	ReportEvery int64         `yaml:"reportEvery"`
	Retry       RetryConfig   `yaml:"retry"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// RetryConfig controls caller-side resubmission. MaxAttempts of 1 disables
// retries.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// BreakerConfig controls the circuit breaker in front of the search service.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// DedupeConfig controls skipping of documents already written in earlier runs.
type DedupeConfig struct {
	Enabled   bool          `yaml:"enabled"`
	KeyPrefix string        `yaml:"keyPrefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// LedgerConfig controls recording of submission outcomes in PostgreSQL.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Table   string `yaml:"table"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// NotifyConfig controls index-complete notifications.
type NotifyConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	IndexComplete string   `yaml:"indexComplete"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given: a local
// Elasticsearch on port 9200 and the "library"/"books" target.
func Default() *Config {
	return &Config{
		Search: SearchConfig{
			Host:           "localhost",
			Port:           9200,
			Scheme:         "http",
			ConnectTimeout: 1500 * time.Second,
			RequestTimeout: 1500 * time.Second,
		},
		Ingestion: IngestionConfig{
			SourcePath:  "data/testdocs.json",
			Index:       "library",
			Category:    "books",
			FanOut:      10,
			ReportEvery: 1000,
			Retry: RetryConfig{
				MaxAttempts:  1,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     5 * time.Second,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Dedupe: DedupeConfig{
			KeyPrefix: "indexed",
			TTL:       24 * time.Hour,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Ledger: LedgerConfig{
			Table: "ingested_documents",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "library",
			User:            "library",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Notify: NotifyConfig{
			BatchSize:     100,
			FlushInterval: 2 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			IndexComplete: "index.complete",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Validate rejects settings the drivers cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Search.Host == "" {
		problems = append(problems, "search.host is required")
	}
	if c.Search.Port <= 0 || c.Search.Port > 65535 {
		problems = append(problems, fmt.Sprintf("search.port %d out of range", c.Search.Port))
	}
	if c.Search.Scheme != "http" && c.Search.Scheme != "https" {
		problems = append(problems, fmt.Sprintf("search.scheme %q must be http or https", c.Search.Scheme))
	}
	if c.Search.ConnectTimeout < 0 {
		problems = append(problems, fmt.Sprintf("search.connectTimeout %s must not be negative", c.Search.ConnectTimeout))
	}
	if c.Search.RequestTimeout < 0 {
		problems = append(problems, fmt.Sprintf("search.requestTimeout %s must not be negative", c.Search.RequestTimeout))
	}
	if c.Ingestion.SourcePath == "" {
		problems = append(problems, "ingestion.sourcePath is required")
	}
	if c.Ingestion.Index == "" {
		problems = append(problems, "ingestion.index is required")
	}
	if c.Ingestion.Category == "" {
		problems = append(problems, "ingestion.category is required")
	}
	if c.Ingestion.FanOut < 1 {
		problems = append(problems, "ingestion.fanOut must be at least 1")
	}
	if c.Ingestion.ReportEvery < 1 {
		problems = append(problems, "ingestion.reportEvery must be at least 1")
	}
	if c.Ingestion.Retry.MaxAttempts < 1 {
		problems = append(problems, "ingestion.retry.maxAttempts must be at least 1")
	}
	if c.Notify.Enabled && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "kafka.brokers is required when notify is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// applyEnvOverrides reads IDX_* environment variables and overrides the
// corresponding config fields. Numeric and duration values that do not parse
// are reported as ErrInvalidConfig rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	var problems []string
	intVar := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s=%q is not an integer", name, v))
			return
		}
		*dst = n
	}
	durationVar := func(name string, dst *time.Duration) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s=%q is not a duration", name, v))
			return
		}
		*dst = d
	}

	if v := os.Getenv("IDX_SEARCH_HOST"); v != "" {
		cfg.Search.Host = v
	}
	intVar("IDX_SEARCH_PORT", &cfg.Search.Port)
	if v := os.Getenv("IDX_SEARCH_USERNAME"); v != "" {
		cfg.Search.Username = v
	}
	if v := os.Getenv("IDX_SEARCH_PASSWORD"); v != "" {
		cfg.Search.Password = v
	}
	durationVar("IDX_SEARCH_REQUEST_TIMEOUT", &cfg.Search.RequestTimeout)
	durationVar("IDX_SEARCH_CONNECT_TIMEOUT", &cfg.Search.ConnectTimeout)
	if v := os.Getenv("IDX_SOURCE_PATH"); v != "" {
		cfg.Ingestion.SourcePath = v
	}
	if v := os.Getenv("IDX_INDEX"); v != "" {
		cfg.Ingestion.Index = v
	}
	if v := os.Getenv("IDX_CATEGORY"); v != "" {
		cfg.Ingestion.Category = v
	}
	intVar("IDX_FAN_OUT", &cfg.Ingestion.FanOut)
	if v := os.Getenv("IDX_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("IDX_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("IDX_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("IDX_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("IDX_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("IDX_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("IDX_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
