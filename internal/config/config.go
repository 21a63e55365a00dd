// Package config loads the vector service configuration from an optional
// YAML file plus TAILORCV_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Vector     VectorConfig     `mapstructure:"vector"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Storing    StoringConfig    `mapstructure:"storing"`
	Retriever  RetrieverConfig  `mapstructure:"retriever"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServiceConfig contains the HTTP surface settings.
type ServiceConfig struct {
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// QueueConfig contains the NATS JetStream consumer settings.
type QueueConfig struct {
	URL             string        `mapstructure:"url"`
	Stream          string        `mapstructure:"stream"`
	Subject         string        `mapstructure:"subject"`
	Durable         string        `mapstructure:"durable"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	ResourceMarkers []string      `mapstructure:"resource_markers"`
}

// VectorConfig contains Qdrant settings. Dimension is tied to the embedding
// model; the collection must match or the service refuses to start.
type VectorConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	Dimension  int           `mapstructure:"dimension"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// EmbeddingsConfig contains embedding backend settings.
type EmbeddingsConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	EnableRedis   bool          `mapstructure:"enable_redis"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	MaxLRU        int           `mapstructure:"max_lru"`
	EmbedBatchMax int           `mapstructure:"embed_batch_max"`
}

// StoringConfig points at the structured-document store.
type StoringConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RetrieverConfig carries the server-side retrieval knobs that are not part
// of the request schema. PerCVLimit <= 0 means unlimited.
type RetrieverConfig struct {
	MinScore          float64 `mapstructure:"min_score"`
	MaxChunksToQuery  int     `mapstructure:"max_chunks_to_query"`
	MaxReturnedChunks int     `mapstructure:"max_returned_chunks"`
	PerCVLimit        int     `mapstructure:"per_cv_limit"`
	TopK              int     `mapstructure:"top_k"`
	RawTopK           int     `mapstructure:"raw_top_k"`
}

// TracingConfig controls OTLP export.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Load reads configuration from CONFIG_PATH (if set), applies TAILORCV_*
// environment overrides, and fills defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TAILORCV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8004)
	v.SetDefault("service.metrics_port", 2112)
	v.SetDefault("service.read_timeout", 30*time.Second)
	v.SetDefault("service.write_timeout", 30*time.Second)

	v.SetDefault("queue.url", "nats://localhost:4222")
	v.SetDefault("queue.stream", "CV_EVENTS")
	v.SetDefault("queue.subject", "cv.created")
	v.SetDefault("queue.durable", "vector-indexer")
	v.SetDefault("queue.reconnect_wait", 5*time.Second)
	v.SetDefault("queue.fetch_timeout", 30*time.Second)

	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6333)
	v.SetDefault("vector.collection", "tailorcv-vectors")
	v.SetDefault("vector.dimension", 1024)
	v.SetDefault("vector.timeout", 10*time.Second)

	v.SetDefault("embeddings.base_url", "http://localhost:8006")
	v.SetDefault("embeddings.model", "BAAI/bge-large-en-v1.5")
	v.SetDefault("embeddings.timeout", 60*time.Second)
	v.SetDefault("embeddings.cache_ttl", time.Hour)
	v.SetDefault("embeddings.max_lru", 2048)
	v.SetDefault("embeddings.embed_batch_max", 100)

	v.SetDefault("storing.base_url", "http://localhost:8002")
	v.SetDefault("storing.timeout", 15*time.Second)

	v.SetDefault("retriever.min_score", 0.75)
	v.SetDefault("retriever.max_chunks_to_query", 50)
	v.SetDefault("retriever.max_returned_chunks", 50)
	v.SetDefault("retriever.per_cv_limit", 3)
	v.SetDefault("retriever.top_k", 3)
	v.SetDefault("retriever.raw_top_k", 30)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "vector-service")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

// Validate rejects configurations the service cannot run with and clamps
// values that have hard floors.
func (c *Config) Validate() error {
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("vector.dimension must be positive, got %d", c.Vector.Dimension)
	}
	if c.Retriever.MinScore < 0 || c.Retriever.MinScore > 1 {
		return fmt.Errorf("retriever.min_score must be in [0,1], got %g", c.Retriever.MinScore)
	}
	if c.Queue.ReconnectWait < 5*time.Second {
		c.Queue.ReconnectWait = 5 * time.Second
	}
	if c.Embeddings.EmbedBatchMax <= 0 || c.Embeddings.EmbedBatchMax > 100 {
		c.Embeddings.EmbedBatchMax = 100
	}
	return nil
}
