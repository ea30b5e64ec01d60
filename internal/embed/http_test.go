package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmbedServer(t *testing.T, dims int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		require.Equal(t, "/api/embed", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		texts, ok := req.Input.([]interface{})
		require.True(t, ok)

		resp := embedResponse{Embeddings: make([][]float32, len(texts))}
		for i := range texts {
			vec := make([]float32, dims)
			vec[i%dims] = 1
			resp.Embeddings[i] = vec
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestHTTPProvider_EmbedBatchSplitsByBatchSize(t *testing.T) {
	// Given: a provider with batch size 2 against a counting server
	var calls atomic.Int64
	srv := newEmbedServer(t, 4, &calls)
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{
		Endpoint:  srv.URL,
		Model:     "test-model",
		BatchSize: 2,
	})
	require.NoError(t, err)
	defer p.Close()

	// When: embedding five texts
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})

	// Then: three requests were made and five normalized vectors returned
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.EqualValues(t, 3, calls.Load())
	for _, v := range vecs {
		assert.Len(t, v, 4)
	}
}

func TestHTTPProvider_LearnsDimensionsFromFirstResponse(t *testing.T) {
	srv := newEmbedServer(t, 6, nil)
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{Endpoint: srv.URL, Model: "test-model"})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Embed(context.Background(), "probe")
	require.NoError(t, err)
	assert.Equal(t, 6, p.Dimensions())
}

func TestHTTPProvider_ErrorStatusSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{Endpoint: srv.URL, Model: "test-model"})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Embed(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestHTTPProvider_RequestTimeoutApplies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{
		Endpoint:       srv.URL,
		Model:          "test-model",
		RequestTimeout: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	_, err = p.Embed(context.Background(), "slow")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPProvider_CountMismatchIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 0}}})
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(HTTPConfig{Endpoint: srv.URL, Model: "test-model"})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestHTTPProvider_RequiresEndpointAndModel(t *testing.T) {
	_, err := NewHTTPProvider(HTTPConfig{Model: "m"})
	assert.Error(t, err)

	_, err = NewHTTPProvider(HTTPConfig{Endpoint: "http://localhost:1"})
	assert.Error(t, err)
}
