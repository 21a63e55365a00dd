// Package httpapi exposes the internal RPC surface consumed by the upstream
// gateway. All endpoints are JSON over POST except the health probe, which
// lives in the health package.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/tailorcv/vector-service/internal/apperr"
	"github.com/tailorcv/vector-service/internal/retriever"
	"github.com/tailorcv/vector-service/internal/tracing"
)

// Retriever is the query side of the service.
type Retriever interface {
	FindSimilarChunks(ctx context.Context, jdText string, params retriever.SimilarParams) ([]retriever.ChunkResult, error)
	SearchTopKCVs(ctx context.Context, jdText string, topK, rawTopK int) ([]retriever.CVScore, error)
}

// Deleter removes all stored chunks for one résumé.
type Deleter interface {
	DeleteByCV(ctx context.Context, cvID string) error
}

type Handler struct {
	retriever Retriever
	deleter   Deleter
	logger    *zap.Logger
}

func NewHandler(ret Retriever, del Deleter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{retriever: ret, deleter: del, logger: logger}
}

// RegisterRoutes attaches the internal endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/internal/similar_chunks", h.handleSimilarChunks)
	mux.HandleFunc("/internal/search_top_k_cvs", h.handleSearchTopKCVs)
	mux.HandleFunc("/internal/delete_cv", h.handleDeleteCV)
}

type similarChunksRequest struct {
	JDText            string   `json:"jd_text"`
	MinScore          *float64 `json:"min_score,omitempty"`
	MaxChunksToQuery  int      `json:"max_chunks_to_query,omitempty"`
	MaxReturnedChunks int      `json:"max_returned_chunks,omitempty"`
	PerCVLimit        *int     `json:"per_cv_limit,omitempty"`
	CVID              string   `json:"cv_id,omitempty"`
}

type similarChunksResponse struct {
	Chunks []retriever.ChunkResult `json:"chunks"`
}

func (h *Handler) handleSimilarChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ctx, span := tracing.StartHTTPSpan(r.Context(), r.Method, r.URL.Path)
	defer span.End()

	var req similarChunksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	chunks, err := h.retriever.FindSimilarChunks(ctx, req.JDText, retriever.SimilarParams{
		MinScore:         req.MinScore,
		MaxChunksToQuery: req.MaxChunksToQuery,
		MaxChunks:        req.MaxReturnedChunks,
		PerCVLimit:       req.PerCVLimit,
		CVID:             req.CVID,
	})
	if err != nil {
		h.writeFailure(w, "Failed to find similar chunks", err)
		return
	}
	if chunks == nil {
		chunks = []retriever.ChunkResult{}
	}
	writeJSON(w, http.StatusOK, similarChunksResponse{Chunks: chunks})
}

type searchTopKRequest struct {
	JDText  string `json:"jd_text"`
	TopK    int    `json:"top_k,omitempty"`
	RawTopK int    `json:"raw_top_k,omitempty"`
}

type searchTopKResponse struct {
	CVs []retriever.CVScore `json:"cvs"`
}

func (h *Handler) handleSearchTopKCVs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ctx, span := tracing.StartHTTPSpan(r.Context(), r.Method, r.URL.Path)
	defer span.End()

	var req searchTopKRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	cvs, err := h.retriever.SearchTopKCVs(ctx, req.JDText, req.TopK, req.RawTopK)
	if err != nil {
		h.writeFailure(w, "Failed to search top-k CVs", err)
		return
	}
	if cvs == nil {
		cvs = []retriever.CVScore{}
	}
	writeJSON(w, http.StatusOK, searchTopKResponse{CVs: cvs})
}

type deleteCVRequest struct {
	CVID string `json:"cv_id"`
}

func (h *Handler) handleDeleteCV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ctx, span := tracing.StartHTTPSpan(r.Context(), r.Method, r.URL.Path)
	defer span.End()

	var req deleteCVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.CVID == "" {
		writeError(w, http.StatusBadRequest, "cv_id is required")
		return
	}

	if err := h.deleter.DeleteByCV(ctx, req.CVID); err != nil {
		h.writeFailure(w, "Failed to delete CV vectors", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "cv_id": req.CVID})
}

// writeFailure maps the error taxonomy onto HTTP statuses and logs at a
// severity matching the class.
func (h *Handler) writeFailure(w http.ResponseWriter, prefix string, err error) {
	msg := fmt.Sprintf("%s: %v", prefix, err)
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput:
		h.logger.Warn(msg)
		writeError(w, http.StatusBadRequest, msg)
	case apperr.KindNotFound:
		h.logger.Warn(msg)
		writeError(w, http.StatusNotFound, msg)
	case apperr.KindUpstreamTransient:
		h.logger.Error(msg)
		writeError(w, http.StatusBadGateway, msg)
	case apperr.KindResourceExhausted:
		h.logger.Error(msg)
		writeError(w, http.StatusServiceUnavailable, msg)
	default:
		h.logger.Error(msg)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
