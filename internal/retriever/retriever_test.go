package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tailorcv/vector-service/internal/apperr"
	"github.com/tailorcv/vector-service/internal/config"
	"github.com/tailorcv/vector-service/internal/vectordb"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

type fakeSearcher struct {
	matches []vectordb.Match
	err     error

	limit     int
	threshold float64
	filter    map[string]interface{}
}

func (f *fakeSearcher) Query(_ context.Context, _ []float32, limit int, threshold float64, filter map[string]interface{}) ([]vectordb.Match, error) {
	f.limit = limit
	f.threshold = threshold
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

func match(cvID, section, text string, score float64) vectordb.Match {
	return vectordb.Match{
		Score: score,
		Payload: map[string]interface{}{
			"cv_id":   cvID,
			"section": section,
			"text":    text,
		},
	}
}

func defaultCfg() config.RetrieverConfig {
	return config.RetrieverConfig{
		MinScore:          0.75,
		MaxChunksToQuery:  50,
		MaxReturnedChunks: 50,
		PerCVLimit:        3,
		TopK:              3,
		RawTopK:           30,
	}
}

func newService(search Searcher) *Service {
	return NewService(defaultCfg(), &fakeEmbedder{}, search, zap.NewNop())
}

func TestFindSimilarChunksThreshold(t *testing.T) {
	search := &fakeSearcher{matches: []vectordb.Match{
		match("cv-1", "experience", "strong match", 0.91),
		match("cv-2", "experience", "borderline", 0.75),
		match("cv-3", "experience", "weak match", 0.60),
	}}

	got, err := newService(search).FindSimilarChunks(context.Background(), "golang backend", SimilarParams{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "strong match", got[0].Text)
	assert.Equal(t, "borderline", got[1].Text)

	// The threshold and query limit are pushed down to the store too.
	assert.Equal(t, 50, search.limit)
	assert.Equal(t, 0.75, search.threshold)
}

func TestFindSimilarChunksPerCVCap(t *testing.T) {
	search := &fakeSearcher{matches: []vectordb.Match{
		match("cv-1", "experience", "a", 0.95),
		match("cv-1", "experience", "b", 0.94),
		match("cv-1", "experience", "c", 0.93),
		match("cv-1", "experience", "d", 0.92),
		match("cv-2", "experience", "e", 0.91),
	}}

	got, err := newService(search).FindSimilarChunks(context.Background(), "q", SimilarParams{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	// cv-1 is capped at 3; its fourth-best chunk yields to cv-2.
	texts := []string{got[0].Text, got[1].Text, got[2].Text, got[3].Text}
	assert.Equal(t, []string{"a", "b", "c", "e"}, texts)
}

func TestFindSimilarChunksUnlimitedPerCV(t *testing.T) {
	search := &fakeSearcher{matches: []vectordb.Match{
		match("cv-1", "experience", "a", 0.95),
		match("cv-1", "experience", "b", 0.94),
		match("cv-1", "experience", "c", 0.93),
		match("cv-1", "experience", "d", 0.92),
	}}

	unlimited := -1
	got, err := newService(search).FindSimilarChunks(context.Background(), "q", SimilarParams{PerCVLimit: &unlimited})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestFindSimilarChunksDedup(t *testing.T) {
	search := &fakeSearcher{matches: []vectordb.Match{
		match("cv-1", "experience", "Built CI pipeline", 0.92),
		match("cv-2", "experience", "  built ci pipeline ", 0.90), // same text modulo case/space
		match("cv-1", "summary", "Seasoned engineer", 0.8812),
		match("cv-2", "summary", "seasoned engineer", 0.8809), // same text, same rounded score
		match("cv-3", "summary", "Seasoned engineer", 0.8104), // same text, different score bucket
	}}

	got, err := newService(search).FindSimilarChunks(context.Background(), "q", SimilarParams{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Bullets come before summaries regardless of score.
	assert.Equal(t, "experience", got[0].Section)
	assert.Equal(t, "Built CI pipeline", got[0].Text)
	assert.Equal(t, "summary", got[1].Section)
	assert.InDelta(t, 0.8812, got[1].Score, 1e-9)
	assert.InDelta(t, 0.8104, got[2].Score, 1e-9)
}

func TestFindSimilarChunksDropsBlankText(t *testing.T) {
	search := &fakeSearcher{matches: []vectordb.Match{
		match("cv-1", "experience", "   ", 0.95),
		match("cv-1", "experience", "real", 0.90),
	}}

	got, err := newService(search).FindSimilarChunks(context.Background(), "q", SimilarParams{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "real", got[0].Text)
}

func TestFindSimilarChunksMaxChunks(t *testing.T) {
	search := &fakeSearcher{matches: []vectordb.Match{
		match("cv-1", "experience", "a", 0.95),
		match("cv-2", "experience", "b", 0.94),
		match("cv-3", "experience", "c", 0.93),
	}}

	got, err := newService(search).FindSimilarChunks(context.Background(), "q", SimilarParams{MaxChunks: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFindSimilarChunksCVFilter(t *testing.T) {
	search := &fakeSearcher{matches: []vectordb.Match{match("cv-7", "experience", "a", 0.9)}}

	got, err := newService(search).FindSimilarChunks(context.Background(), "q", SimilarParams{CVID: "cv-7"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	// The store adapter owns the wire encoding; the retriever hands it plain
	// field predicates.
	assert.Equal(t, map[string]interface{}{"cv_id": "cv-7"}, search.filter)
}

func TestFindSimilarChunksNoCVFilter(t *testing.T) {
	search := &fakeSearcher{}
	_, err := newService(search).FindSimilarChunks(context.Background(), "q", SimilarParams{})
	require.NoError(t, err)
	assert.Nil(t, search.filter)
}

func TestFindSimilarChunksEmptyQuery(t *testing.T) {
	_, err := newService(&fakeSearcher{}).FindSimilarChunks(context.Background(), "   ", SimilarParams{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestFindSimilarChunksRejectsBadMinScore(t *testing.T) {
	bad := 1.5
	_, err := newService(&fakeSearcher{}).FindSimilarChunks(context.Background(), "q", SimilarParams{MinScore: &bad})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestFindSimilarChunksSearchError(t *testing.T) {
	search := &fakeSearcher{err: apperr.Transient(errors.New("qdrant down"))}
	_, err := newService(search).FindSimilarChunks(context.Background(), "q", SimilarParams{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamTransient, apperr.KindOf(err))
}

func TestSearchTopKCVsAggregation(t *testing.T) {
	search := &fakeSearcher{matches: []vectordb.Match{
		match("cv-1", "experience", "a", 0.9),
		match("cv-2", "experience", "b", 0.8),
		match("cv-1", "experience", "c", 0.7),
		match("cv-3", "summary", "d", 0.85),
		match("cv-2", "projects", "e", 0.4),
	}}

	got, err := newService(search).SearchTopKCVs(context.Background(), "job description", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// cv-1: 1.6, cv-2: 1.2, cv-3: 0.85
	assert.Equal(t, "cv-1", got[0].CVID)
	assert.InDelta(t, 1.6, got[0].Score, 1e-9)
	assert.Equal(t, 2, got[0].ChunkCount)
	assert.Equal(t, "cv-2", got[1].CVID)
	assert.Equal(t, "cv-3", got[2].CVID)

	assert.Equal(t, 30, search.limit)
}

func TestSearchTopKCVsTruncatesToK(t *testing.T) {
	search := &fakeSearcher{matches: []vectordb.Match{
		match("cv-1", "experience", "a", 0.9),
		match("cv-2", "experience", "b", 0.8),
		match("cv-3", "experience", "c", 0.7),
		match("cv-4", "experience", "d", 0.6),
	}}

	got, err := newService(search).SearchTopKCVs(context.Background(), "q", 2, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cv-1", got[0].CVID)
	assert.Equal(t, "cv-2", got[1].CVID)
	assert.Equal(t, 10, search.limit)
}

func TestSearchTopKCVsEmptyQuery(t *testing.T) {
	_, err := newService(&fakeSearcher{}).SearchTopKCVs(context.Background(), "", 3, 30)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}
