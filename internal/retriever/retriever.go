// Package retriever answers similarity queries over the indexed chunks:
// per-chunk matches for evidence display, and per-résumé aggregates for
// ranking candidates against a job description.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tailorcv/vector-service/internal/apperr"
	"github.com/tailorcv/vector-service/internal/config"
	"github.com/tailorcv/vector-service/internal/metrics"
	"github.com/tailorcv/vector-service/internal/vectordb"
)

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs vector search against the chunk collection.
type Searcher interface {
	Query(ctx context.Context, vector []float32, limit int, threshold float64, filter map[string]interface{}) ([]vectordb.Match, error)
}

// ChunkResult is one accepted chunk match.
type ChunkResult struct {
	CVID     string                 `json:"cv_id"`
	Section  string                 `json:"section"`
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// CVScore is one résumé's aggregate relevance.
type CVScore struct {
	CVID       string  `json:"cv_id"`
	Score      float64 `json:"score"`
	ChunkCount int     `json:"chunk_count"`
}

// SimilarParams are the per-request knobs for FindSimilarChunks. Zero values
// fall back to the service defaults; PerCVLimit <= 0 disables the per-résumé
// cap only when set explicitly negative.
type SimilarParams struct {
	MinScore         *float64
	MaxChunksToQuery int
	MaxChunks        int
	PerCVLimit       *int
	CVID             string
}

// Service implements retrieval over an embedder and a vector searcher.
type Service struct {
	cfg    config.RetrieverConfig
	embed  Embedder
	search Searcher
	logger *zap.Logger
}

func NewService(cfg config.RetrieverConfig, embed Embedder, search Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, embed: embed, search: search, logger: logger}
}

// FindSimilarChunks embeds the query and returns the accepted chunk matches
// in bullet-then-summary order. Raw matches pass through, in descending
// score order, a fixed filter chain: score threshold, blank text, per-résumé
// cap, near-duplicate suppression, then acceptance up to the result cap.
func (s *Service) FindSimilarChunks(ctx context.Context, query string, params SimilarParams) ([]ChunkResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		metrics.RetrievalRequests.WithLabelValues("similar_chunks", "invalid").Inc()
		return nil, apperr.Newf(apperr.KindInvalidInput, "query text is empty")
	}

	minScore := s.cfg.MinScore
	if params.MinScore != nil {
		minScore = *params.MinScore
	}
	if minScore < 0 || minScore > 1 {
		metrics.RetrievalRequests.WithLabelValues("similar_chunks", "invalid").Inc()
		return nil, apperr.Newf(apperr.KindInvalidInput, "min_score %v outside [0, 1]", minScore)
	}
	queryLimit := params.MaxChunksToQuery
	if queryLimit <= 0 {
		queryLimit = s.cfg.MaxChunksToQuery
	}
	maxChunks := params.MaxChunks
	if maxChunks <= 0 {
		maxChunks = s.cfg.MaxReturnedChunks
	}
	perCV := s.cfg.PerCVLimit
	if params.PerCVLimit != nil {
		perCV = *params.PerCVLimit
	}

	vector, err := s.embed.Embed(ctx, query)
	if err != nil {
		metrics.RetrievalRequests.WithLabelValues("similar_chunks", "error").Inc()
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var filter map[string]interface{}
	if params.CVID != "" {
		filter = map[string]interface{}{"cv_id": params.CVID}
	}

	matches, err := s.search.Query(ctx, vector, queryLimit, minScore, filter)
	if err != nil {
		metrics.RetrievalRequests.WithLabelValues("similar_chunks", "error").Inc()
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	results := selectChunks(matches, minScore, perCV, maxChunks)

	metrics.RetrievalRequests.WithLabelValues("similar_chunks", "ok").Inc()
	metrics.RetrievalChunksReturned.Observe(float64(len(results)))
	s.logger.Debug("Similar chunks retrieved",
		zap.Int("raw_matches", len(matches)),
		zap.Int("accepted", len(results)),
		zap.Float64("min_score", minScore),
	)
	return results, nil
}

// selectChunks applies the filter chain to score-ordered matches and orders
// the survivors bullets-first.
func selectChunks(matches []vectordb.Match, minScore float64, perCV, maxChunks int) []ChunkResult {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	perCVCount := map[string]int{}
	seen := map[string]bool{}
	var bullets, summaries []ChunkResult

	for _, m := range matches {
		if len(bullets)+len(summaries) >= maxChunks {
			break
		}
		if m.Score < minScore {
			continue
		}
		r := toResult(m)
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		if perCV > 0 && perCVCount[r.CVID] >= perCV {
			continue
		}
		if seen[dedupKey(r)] {
			continue
		}
		seen[dedupKey(r)] = true
		perCVCount[r.CVID]++
		if r.Section == "summary" {
			summaries = append(summaries, r)
		} else {
			bullets = append(bullets, r)
		}
	}

	return append(bullets, summaries...)
}

// dedupKey collapses near-duplicate matches. Summaries from different
// résumés are often boilerplate-identical, so their key folds in the rounded
// score to keep distinct-quality matches apart; everything else dedupes on
// (section, normalized text).
func dedupKey(r ChunkResult) string {
	text := strings.ToLower(strings.TrimSpace(r.Text))
	if r.Section == "summary" {
		return fmt.Sprintf("summary|%.3f|%s", math.Round(r.Score*1000)/1000, text)
	}
	return r.Section + "|" + text
}

func toResult(m vectordb.Match) ChunkResult {
	r := ChunkResult{Score: m.Score, Metadata: map[string]interface{}{}}
	for k, v := range m.Payload {
		switch k {
		case "cv_id":
			r.CVID, _ = v.(string)
		case "section":
			r.Section, _ = v.(string)
		case "text":
			r.Text, _ = v.(string)
		default:
			r.Metadata[k] = v
		}
	}
	return r
}

// SearchTopKCVs ranks résumés against the query by summing the scores of
// their matching chunks, so a résumé with several relevant bullets beats one
// lucky near-duplicate.
func (s *Service) SearchTopKCVs(ctx context.Context, query string, topK, rawTopK int) ([]CVScore, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		metrics.RetrievalRequests.WithLabelValues("top_k_cvs", "invalid").Inc()
		return nil, apperr.Newf(apperr.KindInvalidInput, "query text is empty")
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	if rawTopK <= 0 {
		rawTopK = s.cfg.RawTopK
	}

	vector, err := s.embed.Embed(ctx, query)
	if err != nil {
		metrics.RetrievalRequests.WithLabelValues("top_k_cvs", "error").Inc()
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.search.Query(ctx, vector, rawTopK, 0, nil)
	if err != nil {
		metrics.RetrievalRequests.WithLabelValues("top_k_cvs", "error").Inc()
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	totals := map[string]*CVScore{}
	for _, m := range matches {
		cvID, _ := m.Payload["cv_id"].(string)
		if cvID == "" {
			continue
		}
		agg, ok := totals[cvID]
		if !ok {
			agg = &CVScore{CVID: cvID}
			totals[cvID] = agg
		}
		agg.Score += m.Score
		agg.ChunkCount++
	}

	ranked := make([]CVScore, 0, len(totals))
	for _, agg := range totals {
		ranked = append(ranked, *agg)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].CVID < ranked[j].CVID
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	metrics.RetrievalRequests.WithLabelValues("top_k_cvs", "ok").Inc()
	s.logger.Debug("Top-k resumes ranked",
		zap.Int("raw_matches", len(matches)),
		zap.Int("resumes", len(ranked)),
	)
	return ranked, nil
}
