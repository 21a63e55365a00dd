package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DimensionMismatchError is returned when the collection was created with a
// different vector size than the embedding model produces.
type DimensionMismatchError struct {
	Collection        string
	ExpectedDimension int
	ActualDimension   int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for collection %s: expected %d, got %d; recreate the collection or fix the embedding model configuration",
		e.Collection, e.ExpectedDimension, e.ActualDimension)
}

// EnsureCollection bootstraps the collection on first use. A missing
// collection is created with (Dimension, cosine). An existing collection with
// the wrong dimension is a hard failure, except when it holds zero points, in
// which case it is dropped and recreated.
func (c *Client) EnsureCollection(ctx context.Context) error {
	info, err := c.getCollectionInfo(ctx, c.cfg.Collection)
	if err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("describe collection %s: %w", c.cfg.Collection, err)
		}
		c.log.Info("Creating vector collection",
			zap.String("collection", c.cfg.Collection),
			zap.Int("dimension", c.cfg.Dimension))
		return c.createCollection(ctx)
	}

	if info.VectorSize == c.cfg.Dimension {
		c.log.Info("Vector collection ready",
			zap.String("collection", c.cfg.Collection),
			zap.Int("dimension", info.VectorSize),
			zap.Int64("points", info.PointsCount))
		return nil
	}

	if info.PointsCount != 0 {
		return DimensionMismatchError{
			Collection:        c.cfg.Collection,
			ExpectedDimension: c.cfg.Dimension,
			ActualDimension:   info.VectorSize,
		}
	}

	// Empty collection with the wrong dimension: safe to recreate.
	c.log.Warn("Recreating empty collection with wrong dimension",
		zap.String("collection", c.cfg.Collection),
		zap.Int("expected", c.cfg.Dimension),
		zap.Int("actual", info.VectorSize))
	if err := c.dropCollection(ctx); err != nil {
		return err
	}
	return c.createCollection(ctx)
}

func (c *Client) createCollection(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.base, c.cfg.Collection)
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     c.cfg.Dimension,
			"distance": "Cosine",
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", c.cfg.Collection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("create collection %s: status %d", c.cfg.Collection, resp.StatusCode)
	}
	return nil
}

func (c *Client) dropCollection(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.base, c.cfg.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("drop collection %s: %w", c.cfg.Collection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("drop collection %s: status %d", c.cfg.Collection, resp.StatusCode)
	}
	return nil
}

type notFoundError struct{ collection string }

func (e notFoundError) Error() string { return fmt.Sprintf("collection %s not found", e.collection) }

func isNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

func (c *Client) getCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	url := fmt.Sprintf("%s/collections/%s", c.base, collection)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, notFoundError{collection: collection}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get collection info: status %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &CollectionInfo{
		Name:        collection,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}
