package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient calls an external classifier service over HTTP. The
// service receives the structured error and answers with a verdict.
type HTTPClient struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithAPIKey sets the bearer token sent to the classifier service.
func WithAPIKey(key string) HTTPOption {
	return func(c *HTTPClient) { c.apiKey = key }
}

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(httpc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.httpc = httpc }
}

// NewHTTPClient creates a classifier client against baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type classifyRequest struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Classify implements Client.
func (c *HTTPClient) Classify(ctx context.Context, errName, errMessage string) (Verdict, error) {
	body, err := json.Marshal(classifyRequest{Name: errName, Message: errMessage})
	if err != nil {
		return Verdict{}, fmt.Errorf("differential/predictor: encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("differential/predictor: build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("differential/predictor: classify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("differential/predictor: classify: unexpected status %d", resp.StatusCode)
	}

	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Verdict{}, fmt.Errorf("differential/predictor: decode classify response: %w", err)
	}
	return v, nil
}
