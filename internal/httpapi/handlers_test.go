package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tailorcv/vector-service/internal/apperr"
	"github.com/tailorcv/vector-service/internal/retriever"
)

type stubRetriever struct {
	chunks []retriever.ChunkResult
	cvs    []retriever.CVScore
	err    error

	gotJD     string
	gotParams retriever.SimilarParams
	gotTopK   int
}

func (s *stubRetriever) FindSimilarChunks(_ context.Context, jdText string, params retriever.SimilarParams) ([]retriever.ChunkResult, error) {
	s.gotJD = jdText
	s.gotParams = params
	return s.chunks, s.err
}

func (s *stubRetriever) SearchTopKCVs(_ context.Context, jdText string, topK, _ int) ([]retriever.CVScore, error) {
	s.gotJD = jdText
	s.gotTopK = topK
	return s.cvs, s.err
}

type stubDeleter struct {
	err error
	got string
}

func (s *stubDeleter) DeleteByCV(_ context.Context, cvID string) error {
	s.got = cvID
	return s.err
}

func newTestServer(ret Retriever, del Deleter) *httptest.Server {
	mux := http.NewServeMux()
	NewHandler(ret, del, zap.NewNop()).RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestSimilarChunksEndpoint(t *testing.T) {
	ret := &stubRetriever{chunks: []retriever.ChunkResult{
		{CVID: "cv-1", Section: "experience", Text: "Built pipelines", Score: 0.91},
	}}
	srv := newTestServer(ret, &stubDeleter{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/internal/similar_chunks",
		`{"jd_text": "golang engineer", "min_score": 0.8, "per_cv_limit": 2}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Chunks []retriever.ChunkResult `json:"chunks"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Chunks, 1)
	assert.Equal(t, "cv-1", body.Chunks[0].CVID)

	assert.Equal(t, "golang engineer", ret.gotJD)
	require.NotNil(t, ret.gotParams.MinScore)
	assert.Equal(t, 0.8, *ret.gotParams.MinScore)
	require.NotNil(t, ret.gotParams.PerCVLimit)
	assert.Equal(t, 2, *ret.gotParams.PerCVLimit)
}

func TestSimilarChunksEmptyResultIsArray(t *testing.T) {
	srv := newTestServer(&stubRetriever{}, &stubDeleter{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/internal/similar_chunks", `{"jd_text": "q"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw := make(map[string]json.RawMessage)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.JSONEq(t, `[]`, string(raw["chunks"]))
}

func TestSimilarChunksErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", apperr.InvalidInput(errors.New("blank jd_text")), http.StatusBadRequest},
		{"not found", apperr.NotFound(errors.New("missing")), http.StatusNotFound},
		{"upstream transient", apperr.Transient(errors.New("qdrant down")), http.StatusBadGateway},
		{"resource exhausted", apperr.ResourceExhausted(errors.New("oom")), http.StatusServiceUnavailable},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&stubRetriever{err: tt.err}, &stubDeleter{})
			defer srv.Close()

			resp := postJSON(t, srv.URL+"/internal/similar_chunks", `{"jd_text": "q"}`)
			assert.Equal(t, tt.want, resp.StatusCode)

			var body map[string]string
			decodeBody(t, resp, &body)
			assert.Contains(t, body["error"], "Failed to find similar chunks")
		})
	}
}

func TestSimilarChunksRejectsBadJSON(t *testing.T) {
	srv := newTestServer(&stubRetriever{}, &stubDeleter{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/internal/similar_chunks", `{not json`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSimilarChunksRejectsGet(t *testing.T) {
	srv := newTestServer(&stubRetriever{}, &stubDeleter{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/internal/similar_chunks")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSearchTopKCVsEndpoint(t *testing.T) {
	ret := &stubRetriever{cvs: []retriever.CVScore{
		{CVID: "cv-1", Score: 1.6, ChunkCount: 2},
		{CVID: "cv-2", Score: 1.3, ChunkCount: 2},
	}}
	srv := newTestServer(ret, &stubDeleter{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/internal/search_top_k_cvs", `{"jd_text": "backend role", "top_k": 2}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		CVs []retriever.CVScore `json:"cvs"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.CVs, 2)
	assert.Equal(t, "cv-1", body.CVs[0].CVID)
	assert.Equal(t, 2, ret.gotTopK)
}

func TestDeleteCVEndpoint(t *testing.T) {
	del := &stubDeleter{}
	srv := newTestServer(&stubRetriever{}, del)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/internal/delete_cv", `{"cv_id": "cv-9"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cv-9", del.got)
}

func TestDeleteCVRequiresID(t *testing.T) {
	srv := newTestServer(&stubRetriever{}, &stubDeleter{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/internal/delete_cv", `{}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
