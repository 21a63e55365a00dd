package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectionInfoBody(size int, points int64) string {
	return fmt.Sprintf(`{"result":{"points_count":%d,"config":{"params":{"vectors":{"size":%d,"distance":"Cosine"}}}},"status":"ok"}`, points, size)
}

func TestEnsureCollectionCreatesMissing(t *testing.T) {
	var created map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/test-chunks", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			http.NotFound(w, r)
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.Write([]byte(`{"status":"ok"}`))
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))
	defer srv.Close()

	err := newClientFor(t, srv, 1024).EnsureCollection(context.Background())
	require.NoError(t, err)

	buf, _ := json.Marshal(created)
	assert.JSONEq(t, `{"vectors":{"size":1024,"distance":"Cosine"}}`, string(buf))
}

func TestEnsureCollectionMatchingDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(collectionInfoBody(1024, 9000)))
	}))
	defer srv.Close()

	assert.NoError(t, newClientFor(t, srv, 1024).EnsureCollection(context.Background()))
}

func TestEnsureCollectionMismatchWithPointsFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(collectionInfoBody(768, 500)))
	}))
	defer srv.Close()

	err := newClientFor(t, srv, 1024).EnsureCollection(context.Background())
	require.Error(t, err)

	var mismatch DimensionMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 1024, mismatch.ExpectedDimension)
	assert.Equal(t, 768, mismatch.ActualDimension)
}

func TestEnsureCollectionRecreatesEmptyMismatch(t *testing.T) {
	var dropped, recreated bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(collectionInfoBody(768, 0)))
		case http.MethodDelete:
			dropped = true
			w.Write([]byte(`{"status":"ok"}`))
		case http.MethodPut:
			recreated = true
			w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer srv.Close()

	require.NoError(t, newClientFor(t, srv, 1024).EnsureCollection(context.Background()))
	assert.True(t, dropped)
	assert.True(t, recreated)
}
