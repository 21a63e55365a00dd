// Package embeddings is the HTTP client for the embedding model server. The
// model itself lives behind `POST {base}/embeddings/`; this package adds
// caching, batching, and dimension enforcement.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tailorcv/vector-service/internal/apperr"
	"github.com/tailorcv/vector-service/internal/metrics"
	"github.com/tailorcv/vector-service/internal/tracing"
)

// Service generates embeddings with a local LRU in front of an optional
// Redis cache. A single Service is created at startup and shared; concurrent
// callers are safe.
type Service struct {
	cfg   Config
	http  *http.Client
	cache Cache
	lru   *LocalLRU
}

// NewService creates the embedding client. cache may be nil.
func NewService(cfg Config, cache Cache) *Service {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "BAAI/bge-large-en-v1.5"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Service{cfg: cfg, http: httpClient, cache: cache, lru: NewLocalLRU(cfg.MaxLRU)}
}

// Dimension returns the expected vector length D.
func (s *Service) Dimension() int { return s.cfg.Dimension }

// Model returns the configured model identifier.
func (s *Service) Model() string { return s.cfg.Model }

// Healthy probes the model server's health endpoint.
func (s *Service) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service health returned %d", resp.StatusCode)
	}
	return nil
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Embed returns the vector for a single text. Text must be non-empty after
// trimming; passing blank text is a programmer error.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.InvalidInput(fmt.Errorf("embed called with blank text"))
	}

	key := MakeKey(s.cfg.Model, text)
	if v, ok := s.lru.Get(ctx, key); ok {
		metrics.RecordEmbeddingMetrics(s.cfg.Model, "lru_hit", 0)
		return v, nil
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, 30*time.Minute)
			metrics.RecordEmbeddingMetrics(s.cfg.Model, "cache_hit", 0)
			return v, nil
		}
	}

	vecs, err := s.callBackend(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	out := vecs[0]
	s.lru.Set(ctx, key, out, 30*time.Minute)
	if s.cache != nil {
		s.cache.Set(ctx, key, out, s.cfg.CacheTTL)
	}
	return out, nil
}

// EmbedBatch generates embeddings for multiple texts in one request,
// preserving input order. Every text must be non-blank.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, apperr.InvalidInput(fmt.Errorf("embed batch contains blank text at index %d", i))
		}
	}

	results := make([][]float32, len(texts))
	uncachedTexts := []string{}
	uncachedIndices := []int{}

	for i, text := range texts {
		key := MakeKey(s.cfg.Model, text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			metrics.RecordEmbeddingMetrics(s.cfg.Model, "lru_hit", 0)
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, 30*time.Minute)
				metrics.RecordEmbeddingMetrics(s.cfg.Model, "cache_hit", 0)
				continue
			}
		}
		uncachedTexts = append(uncachedTexts, text)
		uncachedIndices = append(uncachedIndices, i)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	vecs, err := s.callBackend(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}
	for i, out := range vecs {
		idx := uncachedIndices[i]
		results[idx] = out

		key := MakeKey(s.cfg.Model, uncachedTexts[i])
		s.lru.Set(ctx, key, out, 30*time.Minute)
		if s.cache != nil {
			s.cache.Set(ctx, key, out, s.cfg.CacheTTL)
		}
	}
	return results, nil
}

// callBackend performs one HTTP round trip for the given texts. The backend
// error body is preserved in the returned error so resource-exhaustion
// markers remain matchable by the consumer.
func (s *Service) callBackend(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	url := fmt.Sprintf("%s/embeddings/", s.cfg.BaseURL)

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	payload := embedRequest{Texts: texts, Model: s.cfg.Model}
	buf, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		metrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		return nil, apperr.Transient(fmt.Errorf("embedding request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
		if apperr.MatchesResourceMarker(err, nil) {
			return nil, apperr.ResourceExhausted(err)
		}
		if resp.StatusCode >= 500 {
			return nil, apperr.Transient(err)
		}
		return nil, err
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		return nil, err
	}
	if len(er.Embeddings) != len(texts) {
		metrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embedding service returned %d embeddings for %d texts", len(er.Embeddings), len(texts))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, embedding := range er.Embeddings {
		if s.cfg.Dimension > 0 && len(embedding) != s.cfg.Dimension {
			metrics.RecordEmbeddingMetrics(s.cfg.Model, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("embedding dimension %d does not match expected %d", len(embedding), s.cfg.Dimension)
		}
		vec := make([]float32, len(embedding))
		for j, f := range embedding {
			vec[j] = float32(f)
		}
		out[i] = vec
	}

	status := "ok"
	if len(texts) > 1 {
		status = "batch_ok"
	}
	metrics.RecordEmbeddingMetrics(s.cfg.Model, status, time.Since(start).Seconds())
	return out, nil
}
