// Package classifier is the HTTP client for the URL classification oracle.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrUnavailable covers every way the oracle can fail to produce a verdict:
// transport errors, timeouts, non-2xx responses and malformed payloads.
var ErrUnavailable = errors.New("classifier unavailable")

// Benign is the prediction label that exempts a URL from reporting.
const Benign = "benign"

const maxResponseSize = 1 << 20

// Verdict is a successful classification.
type Verdict struct {
	Prediction string                     `json:"prediction"`
	Metadata   map[string]json.RawMessage `json:"metadata,omitempty"`
}

// IsBenign reports whether the oracle judged the URL harmless.
func (v *Verdict) IsBenign() bool {
	return v.Prediction == Benign
}

// Client calls the oracle's predict endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for endpoint with the given request timeout.
func New(endpoint string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify asks the oracle for a verdict on url. It never retries.
func (c *Client) Classify(ctx context.Context, url string) (*Verdict, error) {
	body, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}
	if len(raw) > maxResponseSize {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrUnavailable, maxResponseSize)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "classified url",
		"prediction", verdict.Prediction,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return verdict, nil
}

func parseVerdict(raw []byte) (*Verdict, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: response is not a JSON object", ErrUnavailable)
	}

	predRaw, ok := fields["prediction"]
	if !ok {
		return nil, fmt.Errorf("%w: response has no prediction", ErrUnavailable)
	}
	var prediction string
	if err := json.Unmarshal(predRaw, &prediction); err != nil {
		return nil, fmt.Errorf("%w: prediction is not a string", ErrUnavailable)
	}
	if prediction == "" {
		return nil, fmt.Errorf("%w: prediction is empty", ErrUnavailable)
	}

	delete(fields, "prediction")
	v := &Verdict{Prediction: prediction}
	if len(fields) > 0 {
		v.Metadata = fields
	}
	return v, nil
}
