package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tailorcv/vector-service/internal/apperr"
	"github.com/tailorcv/vector-service/internal/resume"
	"github.com/tailorcv/vector-service/internal/vectordb"
)

type fakeFetcher struct {
	doc *resume.Resume
	err error
}

func (f *fakeFetcher) GetCV(_ context.Context, cvID string) (*resume.Resume, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc := *f.doc
	doc.CVID = cvID
	return &doc, nil
}

type fakeEmbedder struct {
	err   error
	calls [][]string
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

type fakeStore struct {
	err     error
	records []vectordb.Record
	deleted []string
}

func (f *fakeStore) Upsert(_ context.Context, records []vectordb.Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeStore) DeleteByCV(_ context.Context, cvID string) error {
	f.deleted = append(f.deleted, cvID)
	return nil
}

func testResume(t *testing.T, sections string) *resume.Resume {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(sections), &m))
	return &resume.Resume{Sections: m}
}

func newTestProcessor(fetch CVFetcher, embed Embedder, store VectorStore) *Processor {
	return NewProcessor(fetch, embed, store, 100, nil, zap.NewNop())
}

func TestIndexPipeline(t *testing.T) {
	fetch := &fakeFetcher{doc: testResume(t, `{
		"summary": {"text": "Engineer"},
		"experience": [{"company": "Acme", "bullets": ["Did A", "Did B"]}]
	}`)}
	embed := &fakeEmbedder{}
	store := &fakeStore{}

	n, err := newTestProcessor(fetch, embed, store).Index(context.Background(), "cv-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, store.records, 3)

	first := store.records[0]
	assert.Equal(t, PointID("cv-1", "summary", 0), first.ID)
	assert.Equal(t, "cv-1", first.Payload["cv_id"])
	assert.Equal(t, "summary", first.Payload["section"])
	assert.Equal(t, "Engineer", first.Payload["text"])
	assert.Equal(t, []float32{0, 1}, first.Vector)

	// Ordinals restart per section.
	assert.Equal(t, PointID("cv-1", "experience", 0), store.records[1].ID)
	assert.Equal(t, PointID("cv-1", "experience", 1), store.records[2].ID)
}

func TestIndexIdempotentIDs(t *testing.T) {
	fetch := &fakeFetcher{doc: testResume(t, `{
		"experience": [{"company": "Acme", "bullets": ["Did A", "Did B"]}]
	}`)}

	run := func() []string {
		store := &fakeStore{}
		_, err := newTestProcessor(fetch, &fakeEmbedder{}, store).Index(context.Background(), "cv-9")
		require.NoError(t, err)
		ids := make([]string, len(store.records))
		for i, r := range store.records {
			ids[i] = r.ID
		}
		return ids
	}

	assert.Equal(t, run(), run())
}

func TestIndexBatchesEmbedCalls(t *testing.T) {
	bullets := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		bullets = append(bullets, fmt.Sprintf("\"bullet %d\"", i))
	}
	doc := fmt.Sprintf(`{"experience": [{"company": "Acme", "bullets": [%s]}]}`,
		bullets[0]+","+bullets[1]+","+bullets[2]+","+bullets[3]+","+bullets[4]+","+bullets[5]+","+bullets[6])

	embed := &fakeEmbedder{}
	proc := NewProcessor(&fakeFetcher{doc: testResume(t, doc)}, embed, &fakeStore{}, 3, nil, zap.NewNop())

	n, err := proc.Index(context.Background(), "cv-2")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.Len(t, embed.calls, 3)
	assert.Len(t, embed.calls[0], 3)
	assert.Len(t, embed.calls[1], 3)
	assert.Len(t, embed.calls[2], 1)
}

func TestReindexDeletesFirst(t *testing.T) {
	fetch := &fakeFetcher{doc: testResume(t, `{"summary": {"text": "S"}}`)}
	store := &fakeStore{}

	n, err := newTestProcessor(fetch, &fakeEmbedder{}, store).Reindex(context.Background(), "cv-3")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"cv-3"}, store.deleted)
}

func TestHandleOutcomes(t *testing.T) {
	okDoc := testResume(t, `{"summary": {"text": "S"}}`)
	event := []byte(`{"cv_id": "cv-1", "event": "cv.created"}`)

	tests := []struct {
		name    string
		payload []byte
		fetch   *fakeFetcher
		embed   *fakeEmbedder
		want    Outcome
	}{
		{"success", event, &fakeFetcher{doc: okDoc}, &fakeEmbedder{}, OutcomeAck},
		{"malformed payload", []byte("{not json"), &fakeFetcher{doc: okDoc}, &fakeEmbedder{}, OutcomeDrop},
		{"missing cv_id", []byte(`{"event": "cv.created"}`), &fakeFetcher{doc: okDoc}, &fakeEmbedder{}, OutcomeDrop},
		{"cv not found", event, &fakeFetcher{err: apperr.NotFound(errors.New("no such cv"))}, &fakeEmbedder{}, OutcomeDrop},
		{"store unreachable", event, &fakeFetcher{err: apperr.Transient(errors.New("connection refused"))}, &fakeEmbedder{}, OutcomeRequeue},
		{"unclassified error", event, &fakeFetcher{err: errors.New("boom")}, &fakeEmbedder{}, OutcomeRequeue},
		{"resource exhausted kind", event, &fakeFetcher{doc: okDoc}, &fakeEmbedder{err: apperr.ResourceExhausted(errors.New("backend oom"))}, OutcomeDrop},
		{"resource marker in message", event, &fakeFetcher{doc: okDoc}, &fakeEmbedder{err: errors.New("CUDA error: out of memory")}, OutcomeDrop},
		{"transient embed error", event, &fakeFetcher{doc: okDoc}, &fakeEmbedder{err: apperr.Transient(errors.New("502"))}, OutcomeRequeue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := newTestProcessor(tt.fetch, tt.embed, &fakeStore{})
			assert.Equal(t, tt.want, proc.Handle(context.Background(), tt.payload))
		})
	}
}

func TestHandleEmptyResumeAcks(t *testing.T) {
	fetch := &fakeFetcher{doc: testResume(t, `{"contact": {"email": "a@b.c"}}`)}
	store := &fakeStore{}
	proc := newTestProcessor(fetch, &fakeEmbedder{}, store)

	got := proc.Handle(context.Background(), []byte(`{"cv_id": "cv-4"}`))
	assert.Equal(t, OutcomeAck, got)
	assert.Empty(t, store.records)
}

func TestPointID(t *testing.T) {
	a := PointID("cv-1", "experience", 0)
	assert.Equal(t, a, PointID("cv-1", "experience", 0))
	assert.NotEqual(t, a, PointID("cv-1", "experience", 1))
	assert.NotEqual(t, a, PointID("cv-1", "summary", 0))
	assert.NotEqual(t, a, PointID("cv-2", "experience", 0))
	// Must parse as a UUID for the vector store.
	assert.Len(t, a, 36)
}
