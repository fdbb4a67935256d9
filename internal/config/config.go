// Package config loads service configuration. Values are layered: built-in
// defaults, then an optional YAML file, then a .env file, then PREFIXSEARCH_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PREFIXSEARCH"

// Providers accepted in Config.Provider.
var knownProviders = []string{"memory", "redis", "elasticsearch"}

// Config is the top-level service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" split_words:"true"`
	Search        SearchConfig        `yaml:"search" split_words:"true"`
	Provider      string              `yaml:"provider" split_words:"true"`
	Redis         RedisConfig         `yaml:"redis" split_words:"true"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" split_words:"true"`
	Catalog       CatalogConfig       `yaml:"catalog" split_words:"true"`
	Kafka         KafkaConfig         `yaml:"kafka" split_words:"true"`
	Breaker       BreakerConfig       `yaml:"breaker" split_words:"true"`
	Logging       LoggingConfig       `yaml:"logging" split_words:"true"`
	Metrics       MetricsConfig       `yaml:"metrics" split_words:"true"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host" split_words:"true"`
	Port            int           `yaml:"port" split_words:"true"`
	ReadTimeout     time.Duration `yaml:"readTimeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" split_words:"true"`
	RequestTimeout  time.Duration `yaml:"requestTimeout" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" split_words:"true"`
	AllowedOrigins  []string      `yaml:"allowedOrigins" split_words:"true"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SearchConfig mirrors prefixsearch.Options.
type SearchConfig struct {
	Namespace       string        `yaml:"namespace" split_words:"true"`
	DefaultLimit    int           `yaml:"defaultLimit" split_words:"true"`
	MaxLimit        int           `yaml:"maxLimit" split_words:"true"`
	MinPrefixLength int           `yaml:"minPrefixLength" split_words:"true"`
	WindowTimeout   time.Duration `yaml:"windowTimeout" split_words:"true"`
	// RetireAfter keeps a replaced index generation readable for searches
	// already running against it.
	RetireAfter time.Duration `yaml:"retireAfter" split_words:"true"`
}

// RedisConfig holds Redis connection parameters for the redis provider and the
// product detail cache.
type RedisConfig struct {
	Addr      string `yaml:"addr" split_words:"true"`
	Password  string `yaml:"password" split_words:"true"`
	DB        int    `yaml:"db" split_words:"true"`
	PoolSize  int    `yaml:"poolSize" split_words:"true"`
	BatchSize int    `yaml:"batchSize" split_words:"true"`
}

// ElasticsearchConfig holds parameters for the elasticsearch provider.
type ElasticsearchConfig struct {
	Addresses     []string `yaml:"addresses" split_words:"true"`
	Index         string   `yaml:"index" split_words:"true"`
	Username      string   `yaml:"username" split_words:"true"`
	Password      string   `yaml:"password" split_words:"true"`
	APIKey        string   `yaml:"apiKey" split_words:"true"`
	RefreshPolicy string   `yaml:"refreshPolicy" split_words:"true"`
}

// CatalogConfig locates the product catalog used for rebuilds and product detail.
type CatalogConfig struct {
	Postgres PostgresConfig `yaml:"postgres" split_words:"true"`
	Table    string         `yaml:"table" split_words:"true"`
	PageSize int            `yaml:"pageSize" split_words:"true"`
	// Cache enables the Redis product detail cache, using the redis section.
	Cache    bool          `yaml:"cache" split_words:"true"`
	CacheTTL time.Duration `yaml:"cacheTTL" split_words:"true"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host" split_words:"true"`
	Port            int           `yaml:"port" split_words:"true"`
	Database        string        `yaml:"database" split_words:"true"`
	User            string        `yaml:"user" split_words:"true"`
	Password        string        `yaml:"password" split_words:"true"`
	SSLMode         string        `yaml:"sslMode" split_words:"true"`
	MaxOpenConns    int           `yaml:"maxOpenConns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" split_words:"true"`
}

// Enabled reports whether a catalog database is configured.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds the product event consumer settings.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled" split_words:"true"`
	Brokers       []string `yaml:"brokers" split_words:"true"`
	Topic         string   `yaml:"topic" split_words:"true"`
	ConsumerGroup string   `yaml:"consumerGroup" split_words:"true"`
}

// BreakerConfig controls the circuit breaker in front of the storage provider.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" split_words:"true"`
	FailureThreshold int           `yaml:"failureThreshold" split_words:"true"`
	ResetTimeout     time.Duration `yaml:"resetTimeout" split_words:"true"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Path    string `yaml:"path" split_words:"true"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			RequestTimeout:  5 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Search: SearchConfig{
			Namespace:       "storefront",
			DefaultLimit:    8,
			MaxLimit:        100,
			MinPrefixLength: 1,
			WindowTimeout:   250 * time.Millisecond,
			RetireAfter:     30 * time.Second,
		},
		Provider: "memory",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			BatchSize: 1000,
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:     []string{"http://localhost:9200"},
			Index:         "prefixsearch",
			RefreshPolicy: "false",
		},
		Catalog: CatalogConfig{
			Postgres: PostgresConfig{
				Port:            5432,
				SSLMode:         "disable",
				MaxOpenConns:    10,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Table:    "products",
			PageSize: 1000,
			CacheTTL: 24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			Topic:         "product-events",
			ConsumerGroup: "prefixsearch",
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			ResetTimeout:     10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "pretty",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration. path and envFile are optional; a missing .env
// file is ignored, a missing YAML file named explicitly is an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := loadDotEnv(envFile); err != nil {
		return Config{}, fmt.Errorf("loading env file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv loads path, or ".env" when empty. Variables already set in the
// process environment win.
func loadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error

	c.Provider = strings.ToLower(c.Provider)
	if !slices.Contains(knownProviders, c.Provider) {
		errs = append(errs, fmt.Errorf("unknown provider %q (want one of %s)", c.Provider, strings.Join(knownProviders, ", ")))
	}
	if c.Search.Namespace == "" {
		errs = append(errs, errors.New("search.namespace must not be empty"))
	}
	if c.Search.MaxLimit <= 0 {
		errs = append(errs, errors.New("search.maxLimit must be positive"))
	}
	if c.Search.DefaultLimit <= 0 || c.Search.DefaultLimit > c.Search.MaxLimit {
		errs = append(errs, fmt.Errorf("search.defaultLimit must be within 1..%d", c.Search.MaxLimit))
	}
	if c.Search.MinPrefixLength < 1 {
		errs = append(errs, errors.New("search.minPrefixLength must be at least 1"))
	}
	if c.Search.WindowTimeout <= 0 {
		errs = append(errs, errors.New("search.windowTimeout must be positive"))
	}
	// A search makes three store round trips against one generation.
	if c.Search.RetireAfter <= 3*c.Search.WindowTimeout {
		errs = append(errs, fmt.Errorf("search.retireAfter must exceed %s", 3*c.Search.WindowTimeout))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka.brokers and kafka.topic are required when kafka is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
