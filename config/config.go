// Package config loads taxcrawl settings from defaults, an optional config
// file, a .env file and the environment.
//
// Environment variables use the CRA_ prefix with a double underscore between
// section and key, for example CRA_LIMITS__MAX_REQUESTS_PER_MINUTE=5.
// QDRANT_ENDPOINT, QDRANT_API_KEY, QDRANT_CLUSTER_NAME and QDRANT_CLUSTER_ID
// are also honoured for the qdrant section.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "CRA"

const (
	BackendBadger = "badger"
	BackendQdrant = "qdrant"

	FetchHTTP    = "http"
	FetchBrowser = "browser"

	FrontierMemory = "memory"
	FrontierRedis  = "redis"
)

// Config is the complete application configuration.
type Config struct {
	BaseURL        string   `mapstructure:"base_url"`
	AllowedDomains []string `mapstructure:"allowed_domains"`
	MinTextLength  int      `mapstructure:"min_text_length"`
	MaxTextLength  int      `mapstructure:"max_text_length"`
	DataDir        string   `mapstructure:"data_dir"`
	LogLevel       string   `mapstructure:"log_level"`

	Limits    LimitsConfig    `mapstructure:"limits"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Store     StoreConfig     `mapstructure:"store"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Frontier  FrontierConfig  `mapstructure:"frontier"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LimitsConfig holds rate limits and crawl bounds.
type LimitsConfig struct {
	MaxRequestsPerMinute  int           `mapstructure:"max_requests_per_minute"`
	MaxRequestsPerHour    int           `mapstructure:"max_requests_per_hour"`
	MaxRequestsPerDay     int           `mapstructure:"max_requests_per_day"`
	RequestDelay          time.Duration `mapstructure:"request_delay"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	MaxRetries            int           `mapstructure:"max_retries"`
	RetryDelay            time.Duration `mapstructure:"retry_delay"`
	// MaxPages caps pages per crawl. Zero means the daily request limit.
	MaxPages int `mapstructure:"max_pages"`
}

type ChunkingConfig struct {
	ChunkSize   int `mapstructure:"chunk_size"`
	OverlapSize int `mapstructure:"overlap_size"`
	MaxChunks   int `mapstructure:"max_chunks"`
}

// EmbeddingConfig points at an OpenAI-compatible embedding endpoint.
type EmbeddingConfig struct {
	Host       string `mapstructure:"host"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	VectorSize int    `mapstructure:"vector_size"`
}

type StoreConfig struct {
	Backend        string  `mapstructure:"backend"`
	ScoreThreshold float32 `mapstructure:"score_threshold"`
}

// QdrantConfig holds the remote store settings. CollectionName also names
// the collection when the badger backend is used.
type QdrantConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	CollectionName string `mapstructure:"collection_name"`
	VectorSize     int    `mapstructure:"vector_size"`
	ClusterName    string `mapstructure:"cluster_name"`
	ClusterID      string `mapstructure:"cluster_id"`
	UseTLS         bool   `mapstructure:"use_tls"`
}

type FetchConfig struct {
	Driver    string        `mapstructure:"driver"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type FrontierConfig struct {
	Driver    string `mapstructure:"driver"`
	RedisAddr string `mapstructure:"redis_addr"`
	Namespace string `mapstructure:"namespace"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// directEnv maps keys to unprefixed variables checked after the CRA_ ones.
var directEnv = map[string]string{
	"qdrant.endpoint":     "QDRANT_ENDPOINT",
	"qdrant.api_key":      "QDRANT_API_KEY",
	"qdrant.cluster_name": "QDRANT_CLUSTER_NAME",
	"qdrant.cluster_id":   "QDRANT_CLUSTER_ID",
}

// Load builds a Config. A .env file in the working directory is loaded into
// the environment first if present. configFile is optional; when set it must
// exist.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return load(configFile)
}

// load is Load without the .env step.
func load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()
	for key, name := range directEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "__"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// Default returns the configuration with only built-in defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	cfg.normalize()
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "https://www.canada.ca/en/revenue-agency.html")
	v.SetDefault("allowed_domains", []string{"canada.ca"})
	v.SetDefault("min_text_length", 50)
	v.SetDefault("max_text_length", 10000)
	v.SetDefault("data_dir", "./cra_data")
	v.SetDefault("log_level", "INFO")

	v.SetDefault("limits.max_requests_per_minute", 10)
	v.SetDefault("limits.max_requests_per_hour", 200)
	v.SetDefault("limits.max_requests_per_day", 1000)
	v.SetDefault("limits.request_delay", "3s")
	v.SetDefault("limits.max_concurrent_requests", 1)
	v.SetDefault("limits.max_retries", 3)
	v.SetDefault("limits.retry_delay", "10s")
	v.SetDefault("limits.max_pages", 0)

	v.SetDefault("chunking.chunk_size", 3000)
	v.SetDefault("chunking.overlap_size", 500)
	v.SetDefault("chunking.max_chunks", 10)

	v.SetDefault("embedding.host", "http://localhost:11434/v1")
	v.SetDefault("embedding.model", "all-minilm")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.vector_size", 384)

	v.SetDefault("store.backend", BackendBadger)
	v.SetDefault("store.score_threshold", 0.7)

	v.SetDefault("qdrant.endpoint", "")
	v.SetDefault("qdrant.api_key", "")
	v.SetDefault("qdrant.collection_name", "cra_tax_data")
	v.SetDefault("qdrant.vector_size", 384)
	v.SetDefault("qdrant.cluster_name", "")
	v.SetDefault("qdrant.cluster_id", "")
	v.SetDefault("qdrant.use_tls", false)

	v.SetDefault("fetch.driver", FetchHTTP)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.timeout", "30s")

	v.SetDefault("frontier.driver", FrontierMemory)
	v.SetDefault("frontier.redis_addr", "localhost:6379")
	v.SetDefault("frontier.namespace", "taxcrawl:frontier")

	v.SetDefault("metrics.addr", "")
}

func (c *Config) normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Fetch.Driver = strings.ToLower(strings.TrimSpace(c.Fetch.Driver))
	c.Frontier.Driver = strings.ToLower(strings.TrimSpace(c.Frontier.Driver))
	c.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))

	domains := c.AllowedDomains[:0]
	for _, d := range c.AllowedDomains {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}
	c.AllowedDomains = domains
}
