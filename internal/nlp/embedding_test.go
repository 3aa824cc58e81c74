package nlp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()

	first, err := e.EmbedSingle(ctx, "hur mycket väger den?")
	require.NoError(t, err)
	second, err := e.EmbedSingle(ctx, "hur mycket väger den?")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.InDelta(t, 1.0, Cosine(first, first), 0.001, "vectors are normalized")
}

func TestMockEmbedderDistinguishesTexts(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()

	a, err := e.EmbedSingle(ctx, "vad är vikten?")
	require.NoError(t, err)
	b, err := e.EmbedSingle(ctx, "passar handtaget till dörren?")
	require.NoError(t, err)

	assert.Less(t, Cosine(a, b), 0.999)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"empty", nil, nil, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 0.001)
		})
	}
}

func TestEmbeddingClientOrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		// Results deliberately out of order
		json.NewEncoder(w).Encode(embeddingResponse{
			Data: []embeddingData{
				{Index: 1, Embedding: []float32{0, 1}},
				{Index: 0, Embedding: []float32{1, 0}},
			},
		})
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(EmbeddingConfig{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	vecs, err := client.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestEmbeddingClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(embeddingResponse{
			Error: &embeddingError{Message: "rate limited", Type: "rate_limit"},
		})
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(EmbeddingConfig{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestEmbeddingClientRequiresAPIKey(t *testing.T) {
	_, err := NewEmbeddingClient(EmbeddingConfig{})
	assert.Error(t, err)
}
