// Package config loads application configuration from a YAML file with
// environment-variable overrides, falling back to defaults for every field.
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
	Server   ServerConfig   `yaml:"server"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Merge    MergeConfig    `yaml:"merge"`
	Staging  StagingConfig  `yaml:"staging"`
	Outline  OutlineConfig  `yaml:"outline"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
}

// FetchConfig controls remote document retrieval.
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	ChunkSize      int           `yaml:"chunkSize"`
	SpoolThreshold int64         `yaml:"spoolThreshold"`
	MaxBytes       int64         `yaml:"maxBytes"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
	UserAgent      string        `yaml:"userAgent"`
	HeadCheck      bool          `yaml:"head_check"`
	ProgressEvery  int64         `yaml:"progressEvery"`
	FollowHTML     bool          `yaml:"followHtml"`
}

// MergeConfig controls the merge engine.
type MergeConfig struct {
	Prefetch     int    `yaml:"prefetch"`
	Optimize     bool   `yaml:"optimize"`
	DefaultTitle string `yaml:"defaultTitle"`
	Filename     string `yaml:"filename"`
}

// StagingConfig controls where per-request scratch storage lives.
type StagingConfig struct {
	Dir string `yaml:"dir"`
}

// OutlineConfig holds the category enumeration and bookmark labels.
type OutlineConfig struct {
	Categories     []string `yaml:"categories"`
	OtherCategory  string   `yaml:"otherCategory"`
	SupplierPrefix string   `yaml:"supplierPrefix"`
	ChapterPrefix  string   `yaml:"chapterPrefix"`
	NavigationName string   `yaml:"navigationName"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RedisConfig holds the merged-document cache connection parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
	MaxBytes int64         `yaml:"maxBytes"`
}

// PostgresConfig holds the merge journal connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
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

// KafkaConfig holds the merge event producer settings.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides.
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
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Fetch: FetchConfig{
			Timeout:        60 * time.Second,
			ChunkSize:      1 << 20,
			SpoolThreshold: 50 << 20,
			MaxAttempts:    5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			HeadCheck:      true,
			ProgressEvery:  10 << 20,
			FollowHTML:     true,
		},
		Merge: MergeConfig{
			Prefetch:     1,
			Optimize:     true,
			DefaultTitle: "Catalogue fusionné",
			Filename:     "catalogues_fusionnes.pdf",
		},
		Outline: OutlineConfig{
			Categories:     []string{"carrelage", "robinetterie", "meuble", "sanitaire", "autre"},
			OtherCategory:  "autre",
			SupplierPrefix: "📁 ",
			ChapterPrefix:  "• ",
			NavigationName: "🗂️ Navigation par catégorie",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
			MaxBytes: 16 << 20,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "pdffusion",
			User:            "pdffusion",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "pdf-fusion.merges",
		},
	}
}

func (c *Config) validate() error {
	if c.Fetch.ChunkSize <= 0 {
		return fmt.Errorf("fetch.chunkSize must be positive, got %d", c.Fetch.ChunkSize)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive, got %v", c.Fetch.Timeout)
	}
	if c.Merge.Prefetch < 1 {
		c.Merge.Prefetch = 1
	}
	if strings.TrimSpace(c.Outline.OtherCategory) == "" {
		return fmt.Errorf("outline.otherCategory must not be empty")
	}
	return nil
}

// applyEnvOverrides reads PF_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PF_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	// PORT is what most PaaS runtimes inject.
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PF_FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Fetch.Timeout = d
		}
	}
	if v := os.Getenv("PF_FETCH_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fetch.MaxAttempts = n
		}
	}
	if v := os.Getenv("PF_MERGE_PREFETCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Merge.Prefetch = n
		}
	}
	if v := os.Getenv("PF_STAGING_DIR"); v != "" {
		cfg.Staging.Dir = v
	}
	if v := os.Getenv("PF_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PF_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PF_REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PF_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PF_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Enabled = true
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PF_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("PF_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Enabled = true
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
}
