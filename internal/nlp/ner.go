// Package nlp provides clients for the external language capabilities the
// engine consumes: named entity tagging and text embeddings. Both are
// optional at runtime; callers degrade when a capability is absent.
package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable indicates the capability cannot be reached. Callers treat
// this as a degradation signal, not a turn failure.
var ErrUnavailable = errors.New("nlp capability unavailable")

// Span is a labelled region of the input text. Offsets are byte offsets
// into the analyzed string.
type Span struct {
	Text  string `json:"text"`
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Tagger defines the named entity tagging interface.
type Tagger interface {
	Entities(ctx context.Context, text string) ([]Span, error)
}

// HTTPTagger calls an external tagging service.
type HTTPTagger struct {
	httpClient *http.Client
	baseURL    string
}

// TaggerConfig holds tagger client configuration.
type TaggerConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPTagger creates a tagger client against the given service.
func NewHTTPTagger(cfg TaggerConfig) (*HTTPTagger, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPTagger{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
	}, nil
}

type tagRequest struct {
	Text string `json:"text"`
}

type tagResponse struct {
	Entities []Span `json:"entities"`
}

// Entities tags the given text. Transport failures are reported as
// ErrUnavailable so callers can degrade to other extraction strategies.
func (t *HTTPTagger) Entities(ctx context.Context, text string) ([]Span, error) {
	jsonBody, err := json.Marshal(tagRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.baseURL+"/entities", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tagger error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var tagResp tagResponse
	if err := json.Unmarshal(body, &tagResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return tagResp.Entities, nil
}

// MockTagger provides a canned tagger for testing.
type MockTagger struct {
	Spans []Span
	Err   error
	Calls int
}

// Entities returns the configured spans or error.
func (m *MockTagger) Entities(ctx context.Context, text string) ([]Span, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Spans, nil
}

var (
	_ Tagger = (*HTTPTagger)(nil)
	_ Tagger = (*MockTagger)(nil)
)
