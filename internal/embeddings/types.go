package embeddings

import "time"

// Config controls the embedding client behavior.
type Config struct {
	// BaseURL points to the model server providing /embeddings
	BaseURL string
	// Model is the embedding model identifier (e.g. BAAI/bge-large-en-v1.5)
	Model string
	// Dimension is the expected vector length; responses with a different
	// length are rejected.
	Dimension int
	// Timeout for outbound HTTP calls
	Timeout time.Duration
	// EnableRedis enables the Redis-backed cache (optional)
	EnableRedis bool
	// RedisAddr in host:port form when EnableRedis is true
	RedisAddr string
	// CacheTTL sets TTL for Redis cache entries
	CacheTTL time.Duration
	// MaxLRU controls the in-process LRU size
	MaxLRU int
}
