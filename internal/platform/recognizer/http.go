package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ehr/phivault/internal/platform/phi"
)

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.httpClient = c }
}

// WithTimeout bounds each Analyze call.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClient) { h.timeout = d }
}

// WithScoreThreshold asks the analyzer to omit spans scored below t.
func WithScoreThreshold(t float64) HTTPOption {
	return func(h *HTTPClient) { h.scoreThreshold = t }
}

// HTTPClient talks to an analyzer service exposing POST /analyze.
type HTTPClient struct {
	baseURL        string
	httpClient     *http.Client
	timeout        time.Duration
	scoreThreshold float64
}

// NewHTTPClient creates a client for the analyzer at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    5 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type analyzeRequest struct {
	Text           string  `json:"text"`
	Language       string  `json:"language"`
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
}

type analyzeResult struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	EntityType string  `json:"entity_type"`
	Score      float64 `json:"score"`
}

// Analyze implements Recognizer. Every failure wraps ErrUnavailable.
func (c *HTTPClient) Analyze(ctx context.Context, text, language string) ([]phi.Span, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(analyzeRequest{Text: text, Language: language, ScoreThreshold: c.scoreThreshold})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: analyzer returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var results []analyzeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	spans := make([]phi.Span, 0, len(results))
	for _, r := range results {
		spans = append(spans, phi.Span{Start: r.Start, End: r.End, EntityType: r.EntityType, Score: r.Score})
	}
	return spans, nil
}
