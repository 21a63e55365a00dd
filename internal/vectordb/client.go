// Package vectordb is a minimal Qdrant HTTP client scoped to the operations
// the indexing and retrieval paths need: upsert, query, delete-by-CV, and
// collection bootstrap.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/tailorcv/vector-service/internal/apperr"
	"github.com/tailorcv/vector-service/internal/circuitbreaker"
	"github.com/tailorcv/vector-service/internal/metrics"
	"github.com/tailorcv/vector-service/internal/tracing"
	"go.uber.org/zap"
)

// Client is a minimal Qdrant HTTP client.
type Client struct {
	cfg   Config
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient creates a Qdrant client. One Client is created at startup and
// shared; it is safe for concurrent use.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:   cfg,
		base:  fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", logger),
		log:   logger,
	}
}

// Collection returns the configured collection name.
func (c *Client) Collection() string { return c.cfg.Collection }

// Healthy reports whether the store answers on its collection endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.getCollectionInfo(ctx, c.cfg.Collection)
	return err
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}
	return c.httpw.Do(req)
}

// Upsert writes records in batches of at most UpsertBatchSize, idempotent by
// record id. Payloads are truncated to stay under the store's metadata
// limit. A failed batch fails the whole call; the caller retries everything.
func (c *Client) Upsert(ctx context.Context, records []Record) error {
	for start := 0; start < len(records); start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := c.upsertBatch(ctx, records[start:end]); err != nil {
			metrics.RecordVectorUpsert(c.cfg.Collection, "error")
			return err
		}
		metrics.RecordVectorUpsert(c.cfg.Collection, "ok")
	}
	return nil
}

func (c *Client) upsertBatch(ctx context.Context, records []Record) error {
	points := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		points = append(points, map[string]interface{}{
			"id":      r.ID,
			"vector":  r.Vector,
			"payload": TruncatePayload(r.Payload),
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.base, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "PUT", url)
	defer span.End()

	buf, _ := json.Marshal(map[string]interface{}{"points": points})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	tracing.InjectTraceparent(ctx, req)
	resp, err := c.do(req)
	if err != nil {
		return apperr.Transient(fmt.Errorf("qdrant upsert: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("qdrant upsert status %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return apperr.Transient(err)
		}
		return err
	}
	return nil
}

// qdrant query request/response (simplified)
type qdrantQueryRequest struct {
	Query          []float32              `json:"query"`
	Limit          int                    `json:"limit"`
	ScoreThreshold *float64               `json:"score_threshold,omitempty"`
	WithPayload    bool                   `json:"with_payload"`
	Filter         map[string]interface{} `json:"filter,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// qdrantQueryResponse for /points/query which nests the points.
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// Query returns up to limit matches ordered by descending cosine score, with
// payload always included. threshold <= 0 disables store-side filtering.
// filter holds field equality predicates ({"cv_id": "..."}); they are encoded
// into Qdrant match clauses before the request goes out.
func (c *Client) Query(ctx context.Context, vector []float32, limit int, threshold float64, filter map[string]interface{}) ([]Match, error) {
	start := time.Now()

	ctx, span := tracing.StartHTTPSpan(ctx, "POST", fmt.Sprintf("%s/collections/%s/points/query", c.base, c.cfg.Collection))
	defer span.End()

	var thr *float64
	if threshold > 0 {
		thr = &threshold
	}
	reqBody := qdrantQueryRequest{Query: vector, Limit: limit, ScoreThreshold: thr, WithPayload: true, Filter: matchFilter(filter)}
	buf, _ := json.Marshal(reqBody)

	call := func(url string, body []byte) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		tracing.InjectTraceparent(ctx, req)
		return c.do(req)
	}

	// Prefer modern /points/query; fall back to /points/search for older servers.
	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", c.base, c.cfg.Collection)
	resp, err := call(urlQuery, buf)
	if err != nil {
		metrics.RecordVectorSearchMetrics(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, apperr.Transient(fmt.Errorf("qdrant query: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		urlSearch := fmt.Sprintf("%s/collections/%s/points/search", c.base, c.cfg.Collection)
		legacy := map[string]interface{}{"vector": vector, "limit": limit, "with_payload": true}
		if threshold > 0 {
			legacy["score_threshold"] = threshold
		}
		if filter != nil {
			legacy["filter"] = filter
		}
		buf2, _ := json.Marshal(legacy)
		resp2, err2 := call(urlSearch, buf2)
		if err2 != nil {
			metrics.RecordVectorSearchMetrics(c.cfg.Collection, "error", time.Since(start).Seconds())
			return nil, apperr.Transient(fmt.Errorf("qdrant query/search failed: %w", err2))
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			metrics.RecordVectorSearchMetrics(c.cfg.Collection, "error", time.Since(start).Seconds())
			return nil, apperr.Transient(fmt.Errorf("qdrant status %d", resp2.StatusCode))
		}
		var qr qdrantSearchResponse
		if err := json.NewDecoder(resp2.Body).Decode(&qr); err != nil {
			metrics.RecordVectorSearchMetrics(c.cfg.Collection, "error", time.Since(start).Seconds())
			return nil, err
		}
		metrics.RecordVectorSearchMetrics(c.cfg.Collection, "ok", time.Since(start).Seconds())
		return toMatches(qr.Result), nil
	}

	var qr qdrantQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		metrics.RecordVectorSearchMetrics(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordVectorSearchMetrics(c.cfg.Collection, "ok", time.Since(start).Seconds())
	return toMatches(qr.Result.Points), nil
}

func toMatches(points []qdrantPoint) []Match {
	out := make([]Match, 0, len(points))
	for _, p := range points {
		payload := p.Payload
		if payload == nil {
			payload = map[string]interface{}{}
		}
		out = append(out, Match{
			ID:      fmt.Sprintf("%v", p.ID),
			Score:   p.Score,
			Payload: payload,
		})
	}
	return out
}

// matchFilter translates field equality predicates into Qdrant's filter
// schema: {"must": [{"key": k, "match": {"value": v}}, ...]}. Keys are
// emitted in sorted order. A nil or empty predicate map yields nil so the
// request carries no filter at all.
func matchFilter(preds map[string]interface{}) map[string]interface{} {
	if len(preds) == 0 {
		return nil
	}
	keys := make([]string, 0, len(preds))
	for k := range preds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	must := make([]map[string]interface{}, 0, len(keys))
	for _, k := range keys {
		must = append(must, map[string]interface{}{
			"key":   k,
			"match": map[string]interface{}{"value": preds[k]},
		})
	}
	return map[string]interface{}{"must": must}
}

// DeleteByCV removes every point whose payload carries the given cv_id.
func (c *Client) DeleteByCV(ctx context.Context, cvID string) error {
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.base, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	body := map[string]interface{}{
		"filter": matchFilter(map[string]interface{}{"cv_id": cvID}),
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	tracing.InjectTraceparent(ctx, req)
	resp, err := c.do(req)
	if err != nil {
		return apperr.Transient(fmt.Errorf("qdrant delete: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("qdrant delete status %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return apperr.Transient(err)
		}
		return err
	}
	return nil
}

// TruncatePayload enforces the payload schema: text is capped at MaxTextLen,
// scalar extras pass through (long strings capped at MaxExtraLen), and any
// structured value is stringified then capped.
func TruncatePayload(payload map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == "text" {
			if s, ok := v.(string); ok {
				out[k] = truncate(s, MaxTextLen)
				continue
			}
		}
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, MaxExtraLen)
		case bool, int, int32, int64, float32, float64:
			out[k] = t
		default:
			b, err := json.Marshal(t)
			if err != nil {
				out[k] = truncate(fmt.Sprintf("%v", t), MaxExtraLen)
				continue
			}
			out[k] = truncate(string(b), MaxExtraLen)
		}
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so the cut never leaves invalid UTF-8.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
