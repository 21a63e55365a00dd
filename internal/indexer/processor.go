// Package indexer consumes cv.created events and maintains the vector
// collection: fetch the structured résumé, chunk it, embed the chunks, and
// upsert the points under deterministic ids so reprocessing the same event
// converges instead of duplicating.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tailorcv/vector-service/internal/apperr"
	"github.com/tailorcv/vector-service/internal/chunker"
	"github.com/tailorcv/vector-service/internal/metrics"
	"github.com/tailorcv/vector-service/internal/resume"
	"github.com/tailorcv/vector-service/internal/vectordb"
)

// Outcome is the terminal disposition of one event.
type Outcome int

const (
	// OutcomeAck removes the event from the queue after success (or after a
	// no-op, e.g. a résumé that produced zero chunks).
	OutcomeAck Outcome = iota
	// OutcomeRequeue redelivers the event after a transient failure.
	OutcomeRequeue
	// OutcomeDrop discards the event without redelivery: malformed payloads,
	// missing documents, and resource-exhausted backends would fail the same
	// way on every redelivery.
	OutcomeDrop
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "acked"
	case OutcomeRequeue:
		return "requeued"
	default:
		return "poisoned"
	}
}

// Event is the payload of a cv.created message.
type Event struct {
	CVID  string `json:"cv_id"`
	Event string `json:"event,omitempty"`
}

// CVFetcher loads the structured résumé for a cv id.
type CVFetcher interface {
	GetCV(ctx context.Context, cvID string) (*resume.Resume, error)
}

// Embedder turns chunk texts into vectors, preserving order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore persists chunk points.
type VectorStore interface {
	Upsert(ctx context.Context, records []vectordb.Record) error
	DeleteByCV(ctx context.Context, cvID string) error
}

// Processor runs the fetch -> chunk -> embed -> upsert pipeline for one
// event at a time.
type Processor struct {
	fetch    CVFetcher
	embed    Embedder
	store    VectorStore
	batchMax int
	markers  []string
	logger   *zap.Logger
}

func NewProcessor(fetch CVFetcher, embed Embedder, store VectorStore, batchMax int, markers []string, logger *zap.Logger) *Processor {
	if batchMax <= 0 {
		batchMax = 100
	}
	if len(markers) == 0 {
		markers = apperr.DefaultResourceMarkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		fetch:    fetch,
		embed:    embed,
		store:    store,
		batchMax: batchMax,
		markers:  markers,
		logger:   logger,
	}
}

// Handle processes one raw event payload and returns its disposition.
func (p *Processor) Handle(ctx context.Context, data []byte) Outcome {
	start := time.Now()

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		p.logger.Warn("Dropping malformed event payload", zap.Error(err))
		metrics.RecordEventOutcome("poisoned", 0)
		return OutcomeDrop
	}
	if strings.TrimSpace(ev.CVID) == "" {
		p.logger.Warn("Dropping event without cv_id")
		metrics.RecordEventOutcome("poisoned", 0)
		return OutcomeDrop
	}

	n, err := p.Index(ctx, ev.CVID)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		outcome := p.classify(err)
		p.logFailure(ev.CVID, err, outcome)
		metrics.RecordEventOutcome(outcome.String(), elapsed)
		return outcome
	}

	if n == 0 {
		p.logger.Info("Resume produced no chunks", zap.String("cv_id", ev.CVID))
		metrics.RecordEventOutcome("empty", elapsed)
		return OutcomeAck
	}

	p.logger.Info("Indexed resume",
		zap.String("cv_id", ev.CVID),
		zap.Int("chunks", n),
		zap.Duration("duration", time.Since(start)),
	)
	metrics.RecordEventOutcome("acked", elapsed)
	return OutcomeAck
}

// Index runs the pipeline for one cv id and returns the number of points
// written. Point ids are a pure function of (cv_id, section, ordinal), so a
// changed résumé overwrites its previous chunks in place.
func (p *Processor) Index(ctx context.Context, cvID string) (int, error) {
	doc, err := p.fetch.GetCV(ctx, cvID)
	if err != nil {
		return 0, fmt.Errorf("fetch cv %s: %w", cvID, err)
	}

	chunks := chunker.Split(doc)
	if len(chunks) == 0 {
		return 0, nil
	}
	for _, c := range chunks {
		metrics.ChunksProduced.WithLabelValues(c.Section).Inc()
	}

	if err := p.embedAll(ctx, chunks); err != nil {
		return 0, fmt.Errorf("embed cv %s: %w", cvID, err)
	}

	records := p.toRecords(chunks)
	if err := p.store.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("upsert cv %s: %w", cvID, err)
	}
	return len(records), nil
}

// Reindex is Index preceded by a delete, for explicit rebuilds where the new
// chunk set may be smaller than the stored one.
func (p *Processor) Reindex(ctx context.Context, cvID string) (int, error) {
	if err := p.store.DeleteByCV(ctx, cvID); err != nil {
		return 0, fmt.Errorf("delete cv %s: %w", cvID, err)
	}
	return p.Index(ctx, cvID)
}

func (p *Processor) embedAll(ctx context.Context, chunks []chunker.Chunk) error {
	for lo := 0; lo < len(chunks); lo += p.batchMax {
		hi := lo + p.batchMax
		if hi > len(chunks) {
			hi = len(chunks)
		}
		texts := make([]string, hi-lo)
		for i := lo; i < hi; i++ {
			texts[i-lo] = chunks[i].Text
		}
		vectors, err := p.embed.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return apperr.Newf(apperr.KindInternal, "embedder returned %d vectors for %d texts", len(vectors), len(texts))
		}
		for i := lo; i < hi; i++ {
			chunks[i].Embedding = vectors[i-lo]
		}
	}
	return nil
}

func (p *Processor) toRecords(chunks []chunker.Chunk) []vectordb.Record {
	records := make([]vectordb.Record, 0, len(chunks))
	ordinals := map[string]int{}
	for _, c := range chunks {
		ord := ordinals[c.Section]
		ordinals[c.Section]++

		payload := make(map[string]interface{}, len(c.Metadata)+3)
		for k, v := range c.Metadata {
			payload[k] = v
		}
		payload["cv_id"] = c.CVID
		payload["section"] = c.Section
		payload["text"] = c.Text

		records = append(records, vectordb.Record{
			ID:      PointID(c.CVID, c.Section, ord),
			Vector:  c.Embedding,
			Payload: vectordb.TruncatePayload(payload),
		})
	}
	return records
}

// PointID derives the stable point id for a chunk from its identity
// ("{cv_id}:{section}:{ordinal}") as a name-based UUID, which the vector
// store accepts as a point id.
func PointID(cvID, section string, ordinal int) string {
	name := fmt.Sprintf("%s:%s:%d", cvID, section, ordinal)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func (p *Processor) classify(err error) Outcome {
	if apperr.MatchesResourceMarker(err, p.markers) {
		return OutcomeDrop
	}
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput, apperr.KindNotFound, apperr.KindResourceExhausted:
		return OutcomeDrop
	default:
		// Transient upstream failures and anything unclassified get another
		// delivery.
		return OutcomeRequeue
	}
}

func (p *Processor) logFailure(cvID string, err error, outcome Outcome) {
	fields := []zap.Field{
		zap.String("cv_id", cvID),
		zap.String("outcome", outcome.String()),
		zap.Error(err),
	}
	if apperr.KindOf(err) == apperr.KindResourceExhausted || apperr.MatchesResourceMarker(err, p.markers) {
		p.logger.Error("Embedding backend reported resource exhaustion; dropping event to avoid a crash loop", fields...)
		return
	}
	if outcome == OutcomeRequeue {
		p.logger.Warn("Indexing failed, requeueing event", fields...)
		return
	}
	p.logger.Error("Indexing failed, dropping event", fields...)
}
