// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Engine, Locales, Index, Tasks, Postgres, Kafka, Redis, Worker,
// etc.) and the static index declarations compiled into the index registry.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Engine   EngineConfig               `yaml:"engine"`
	Locales  LocalesConfig              `yaml:"locales"`
	Index    IndexConfig                `yaml:"index"`
	Tasks    TasksConfig                `yaml:"tasks"`
	Postgres PostgresConfig             `yaml:"postgres"`
	Kafka    KafkaConfig                `yaml:"kafka"`
	Redis    RedisConfig                `yaml:"redis"`
	Worker   WorkerConfig               `yaml:"worker"`
	Logging  LoggingConfig              `yaml:"logging"`
	Metrics  MetricsConfig              `yaml:"metrics"`
	Indexes  map[string]IndexDeclConfig `yaml:"indexes"`
}

// EngineConfig holds the search engine endpoint and upload limits.
type EngineConfig struct {
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"apiKey"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	MaxPayloadBytes   int           `yaml:"maxPayloadBytes"`
	BreakerFailures   int           `yaml:"breakerFailures"`
	BreakerReset      time.Duration `yaml:"breakerReset"`
}

// LocalesConfig is the global locale surface: whether multilingual indexing
// is on, which locales are enabled, and the default (source) locale.
type LocalesConfig struct {
	Multilingual bool     `yaml:"multilingual"`
	Enabled      []string `yaml:"enabled"`
	Default      string   `yaml:"default"`
}

// IndexConfig controls index naming and batch defaults.
type IndexConfig struct {
	Prefix     string   `yaml:"prefix"`
	BatchSize  int      `yaml:"batchSize"`
	AutoCreate bool     `yaml:"autoCreate"`
	Groups     []string `yaml:"groups"`
}

// TasksConfig bounds polling of asynchronous engine tasks.
type TasksConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxInterval  time.Duration `yaml:"maxInterval"`
	MaxAttempts  int           `yaml:"maxAttempts"`
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	MaxAttempts   int         `yaml:"maxAttempts"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Jobs       string `yaml:"jobs"`
	DeadLetter string `yaml:"deadLetter"`
}

// RedisConfig holds Redis connection parameters and task-tracking TTLs.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	TaskTTL  time.Duration `yaml:"taskTTL"`
}

// WorkerConfig controls the asynchronous job consumers.
type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	JobTimeout  time.Duration `yaml:"jobTimeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics and health server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// IndexDeclConfig is the YAML form of one logical index declaration.
type IndexDeclConfig struct {
	Class            string              `yaml:"class"`
	Table            string              `yaml:"table"`
	PrimaryKey       string              `yaml:"primaryKey"`
	TranslationTable string              `yaml:"translationTable"`
	Displayed        []string            `yaml:"displayed"`
	Filterable       []string            `yaml:"filterable"`
	Sortable         []string            `yaml:"sortable"`
	Searchable       []string            `yaml:"searchable"`
	Groups           map[string][]string `yaml:"groups"`
	Facets           []FacetConfig       `yaml:"facets"`
	Locales          *IndexLocaleConfig  `yaml:"locales"`
}

// FacetConfig describes one facet rendered by search front ends.
type FacetConfig struct {
	Attribute string `yaml:"attribute"`
	Label     string `yaml:"label"`
	Type      string `yaml:"type"`
}

// IndexLocaleConfig is per-index locale metadata. Multilingual is a pointer so
// an explicit false can opt a single index out.
type IndexLocaleConfig struct {
	Source       string   `yaml:"source"`
	Targets      []string `yaml:"targets"`
	Multilingual *bool    `yaml:"multilingual"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, then validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Engine.URL == "" {
		return fmt.Errorf("engine.url is required")
	}
	if c.Engine.MaxPayloadBytes <= 0 {
		return fmt.Errorf("engine.maxPayloadBytes must be positive, got %d", c.Engine.MaxPayloadBytes)
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("index.batchSize must be positive, got %d", c.Index.BatchSize)
	}
	if c.Tasks.MaxAttempts <= 0 {
		return fmt.Errorf("tasks.maxAttempts must be positive, got %d", c.Tasks.MaxAttempts)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local development.
func defaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			URL:               "http://localhost:7700",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 50,
			MaxPayloadBytes:   10_000_000,
			BreakerFailures:   5,
			BreakerReset:      30 * time.Second,
		},
		Locales: LocalesConfig{
			Enabled: []string{"en"},
			Default: "en",
		},
		Index: IndexConfig{
			BatchSize:  500,
			AutoCreate: true,
			Groups:     []string{"searchable"},
		},
		Tasks: TasksConfig{
			PollInterval: 50 * time.Millisecond,
			MaxInterval:  2 * time.Second,
			MaxAttempts:  600,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "app",
			User:            "app",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "search-index-sync",
			MaxAttempts:   5,
			Topics: KafkaTopics{
				Jobs:       "search.index-jobs",
				DeadLetter: "search.index-jobs.dlq",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			TaskTTL:  24 * time.Hour,
		},
		Worker: WorkerConfig{
			Concurrency: 4,
			JobTimeout:  5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SS_ENGINE_URL"); v != "" {
		cfg.Engine.URL = v
	}
	if v := os.Getenv("SS_ENGINE_API_KEY"); v != "" {
		cfg.Engine.APIKey = v
	}
	if v := os.Getenv("SS_ENGINE_MAX_PAYLOAD_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxPayloadBytes = n
		}
	}
	if v := os.Getenv("SS_INDEX_PREFIX"); v != "" {
		cfg.Index.Prefix = v
	}
	if v := os.Getenv("SS_INDEX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.BatchSize = n
		}
	}
	if v := os.Getenv("SS_LOCALES_MULTILINGUAL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Locales.Multilingual = b
		}
	}
	if v := os.Getenv("SS_LOCALES_ENABLED"); v != "" {
		cfg.Locales.Enabled = strings.Split(v, ",")
	}
	if v := os.Getenv("SS_LOCALES_DEFAULT"); v != "" {
		cfg.Locales.Default = v
	}
	if v := os.Getenv("SS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SS_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("SS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
