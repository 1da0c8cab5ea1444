package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/phiacta/phiacta/errors"
)

// HTTPEmbedder calls an external embedding service over HTTP. Any failure
// to reach the service or decode its response is an upstream availability
// problem, classified so callers can decide whether to degrade.
type HTTPEmbedder struct {
	url        string
	model      string
	dimensions int
	client     *http.Client
}

// NewHTTPEmbedder constructs an embedder for the service at url. The
// service is expected to return vectors of the given dimensionality.
func NewHTTPEmbedder(url, model string, dimensions int) *HTTPEmbedder {
	return &HTTPEmbedder{
		url:        url,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *HTTPEmbedder) Dimensions() int { return e.dimensions }
func (e *HTTPEmbedder) Model() string   { return e.model }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed requests a vector for the given text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.url == "" {
		return nil, errors.Wrap(errors.ErrUpstreamUnavailable, "no embedding service configured")
	}
	if text == "" {
		return nil, errors.Wrap(errors.ErrValidation, "cannot embed empty text")
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, errors.Wrap(err, "marshal embed request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build embed request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUpstreamUnavailable, "embedding service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(errors.ErrUpstreamUnavailable,
			"embedding service returned %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrapf(errors.ErrUpstreamUnavailable, "decode embed response: %v", err)
	}
	if len(out.Embeddings) != 1 {
		return nil, errors.Wrapf(errors.ErrUpstreamUnavailable,
			"embedding service returned %d vectors, want 1", len(out.Embeddings))
	}
	vec := out.Embeddings[0]
	if len(vec) != e.dimensions {
		return nil, errors.Wrapf(errors.ErrUpstreamUnavailable,
			"embedding service returned %d dimensions, want %d", len(vec), e.dimensions)
	}
	return vec, nil
}
