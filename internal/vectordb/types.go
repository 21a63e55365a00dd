package vectordb

import "time"

// UpsertBatchSize caps how many points go into one upsert request.
const UpsertBatchSize = 100

// Truncation limits applied to payload values before upsert, keeping each
// record's payload under the store's metadata size limit.
const (
	MaxTextLen  = 1000
	MaxExtraLen = 500
)

// Config controls the Qdrant client behavior.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	Collection string
	// Dimension is the vector length the collection must be created with.
	Dimension int
	Timeout   time.Duration
}

// Record is a single point to upsert. ID must be deterministic in the chunk
// identity so redelivery overwrites instead of duplicating.
type Record struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// Match is a single query hit, score in cosine similarity order.
type Match struct {
	ID      string
	Score   float64
	Payload map[string]interface{}
}

// CollectionInfo holds basic information about a collection.
type CollectionInfo struct {
	Name        string
	VectorSize  int
	PointsCount int64
}
