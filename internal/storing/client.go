// Package storing is the HTTP client for the structured-document store.
package storing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tailorcv/vector-service/internal/apperr"
	"github.com/tailorcv/vector-service/internal/circuitbreaker"
	"github.com/tailorcv/vector-service/internal/resume"
	"github.com/tailorcv/vector-service/internal/tracing"
	"go.uber.org/zap"
)

// Config controls the storing service client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client fetches structured résumés by content id.
type Client struct {
	cfg   Config
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient creates a storing service client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:   cfg,
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "storing", logger),
		log:   logger,
	}
}

// GetCV fetches the structured résumé for cvID. A 404 means the reference is
// permanently dead and must not be retried.
func (c *Client) GetCV(ctx context.Context, cvID string) (*resume.Resume, error) {
	if cvID == "" {
		return nil, apperr.InvalidInput(fmt.Errorf("cv_id is empty"))
	}

	reqURL := fmt.Sprintf("%s/internal/get_cv/%s", c.cfg.BaseURL, url.PathEscape(cvID))
	ctx, span := tracing.StartHTTPSpan(ctx, "GET", reqURL)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return nil, apperr.Transient(fmt.Errorf("fetch cv %s: %w", cvID, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.NotFound(fmt.Errorf("cv %s not found", cvID))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, apperr.InvalidInput(fmt.Errorf("fetch cv %s: status %d: %s", cvID, resp.StatusCode, string(body)))
	default:
		return nil, apperr.Transient(fmt.Errorf("fetch cv %s: status %d", cvID, resp.StatusCode))
	}

	var r resume.Resume
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode cv %s: %w", cvID, err)
	}
	if r.CVID == "" {
		r.CVID = cvID
	}
	return &r, nil
}

// Healthy reports whether the storing service answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	reqURL := fmt.Sprintf("%s/health", c.cfg.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("storing health status %d", resp.StatusCode)
	}
	return nil
}
