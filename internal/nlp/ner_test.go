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

func TestHTTPTaggerEntities(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/entities", r.URL.Path)

		var req tagRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "vad kostar handtaget", req.Text)

		json.NewEncoder(w).Encode(tagResponse{
			Entities: []Span{{Text: "handtaget", Label: "PRODUCT", Start: 11, End: 20}},
		})
	}))
	defer server.Close()

	tagger, err := NewHTTPTagger(TaggerConfig{BaseURL: server.URL})
	require.NoError(t, err)

	spans, err := tagger.Entities(context.Background(), "vad kostar handtaget")
	require.NoError(t, err)

	require.Len(t, spans, 1)
	assert.Equal(t, "PRODUCT", spans[0].Label)
	assert.Equal(t, 11, spans[0].Start)
}

func TestHTTPTaggerServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	tagger, err := NewHTTPTagger(TaggerConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = tagger.Entities(context.Background(), "text")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPTaggerConnectionErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	tagger, err := NewHTTPTagger(TaggerConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = tagger.Entities(context.Background(), "text")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPTaggerClientErrorIsNotUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	tagger, err := NewHTTPTagger(TaggerConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = tagger.Entities(context.Background(), "text")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestHTTPTaggerRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPTagger(TaggerConfig{})
	assert.Error(t, err)
}

func TestMockTagger(t *testing.T) {
	tagger := &MockTagger{Spans: []Span{{Text: "psv", Label: "PRODUCT"}}}

	spans, err := tagger.Entities(context.Background(), "psv")
	require.NoError(t, err)
	assert.Len(t, spans, 1)
	assert.Equal(t, 1, tagger.Calls)

	tagger.Err = ErrUnavailable
	_, err = tagger.Entities(context.Background(), "psv")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, tagger.Calls)
}
