package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ajitpratap0/intenthub/internal/apperr"
)

const (
	defaultEndpointURL  = "https://api-inference.huggingface.co/pipeline/feature-extraction"
	defaultTimeout      = 30 * time.Second
	defaultModel        = "sentence-transformers/all-mpnet-base-v2"
	defaultDim          = 768
	maxRetries          = 3
	maxRetryAfter       = 60 * time.Second
	maxResponseBodySize = 10 << 20
)

// HTTPEmbedder calls a HuggingFace Inference API feature-extraction
// endpoint. Output vectors are L2-normalized so cosine similarity reduces
// to a dot product in the vector index.
type HTTPEmbedder struct {
	apiKey      string
	model       string
	dimensions  int
	endpointURL string
	client      *http.Client
	logger      *slog.Logger
}

// Option configures an HTTPEmbedder.
type Option func(*HTTPEmbedder)

// WithEndpointURL overrides the default HuggingFace endpoint, for pointing
// at a local inference server or an httptest server in tests.
func WithEndpointURL(url string) Option {
	return func(e *HTTPEmbedder) { e.endpointURL = url }
}

// WithDimensions overrides the declared output dimensionality.
func WithDimensions(dim int) Option {
	return func(e *HTTPEmbedder) { e.dimensions = dim }
}

// WithHTTPClient overrides the http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *HTTPEmbedder) { e.client = c }
}

// NewHTTPEmbedder builds an Embedder backed by a HuggingFace-compatible
// feature-extraction endpoint.
func NewHTTPEmbedder(apiKey, model string, logger *slog.Logger, opts ...Option) *HTTPEmbedder {
	if model == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &HTTPEmbedder{
		apiKey:      apiKey,
		model:       model,
		dimensions:  defaultDim,
		endpointURL: defaultEndpointURL,
		client:      &http.Client{Timeout: defaultTimeout},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HTTPEmbedder) Dim() int { return e.dimensions }

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedder.EmbedBatch"
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(map[string]any{
		"inputs": texts,
		"options": map[string]any{
			"wait_for_model": true,
		},
	})
	if err != nil {
		return nil, apperr.Validation(op, err)
	}

	url := fmt.Sprintf("%s/%s", e.endpointURL, e.model)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, apperr.Cancelled(op, ctx.Err())
			case <-time.After(time.Duration(1<<attempt) * time.Second):
			}
		}

		vecs, retryAfter, err := e.doRequest(ctx, url, reqBody)
		if err == nil {
			return normalizeAll(vecs), nil
		}
		lastErr = err
		if retryAfter > 0 {
			if retryAfter > maxRetryAfter {
				retryAfter = maxRetryAfter
			}
			e.logger.Warn("embedder rate limited, backing off", "retry_after", retryAfter)
			select {
			case <-ctx.Done():
				return nil, apperr.Cancelled(op, ctx.Err())
			case <-time.After(retryAfter):
			}
		}
	}

	return nil, apperr.BackendUnavailable(op, fmt.Errorf("after %d attempts: %w", maxRetries, lastErr))
}

// doRequest issues one HTTP call. retryAfter is non-zero when the caller
// should back off before the next attempt (429 or 5xx).
func (e *HTTPEmbedder) doRequest(ctx context.Context, url string, body []byte) ([][]float32, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBodySize)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, 0, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("rate limited: %s", raw)
	}
	if resp.StatusCode >= 500 {
		return nil, time.Second, fmt.Errorf("server error %d: %s", resp.StatusCode, raw)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, raw)
	}

	var vecs [][]float32
	if err := json.Unmarshal(raw, &vecs); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}
	return vecs, 0, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}

func normalizeAll(vecs [][]float32) [][]float32 {
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		out[i] = l2Normalize(v)
	}
	return out
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
