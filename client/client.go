// Package client provides a Go client for a remote control-plane
// instance over its HTTP API.
//
// Usage:
//
//	c := client.New("https://api.example.com",
//	    client.WithToken("sk_..."),
//	)
//
//	// Admit a job and wait for its result.
//	jobID, _, err := c.CreateJob(ctx, client.CreateJobInput{
//	    Service:  "billing",
//	    TargetFn: "chargeInvoice",
//	    Args:     payload,
//	})
//	status, err := c.JobStatus(ctx, jobID, 20*time.Second)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/api"
	"github.com/differentialhq/differential-sub000/backoff"
	"github.com/differentialhq/differential-sub000/id"
)

// Client talks to a remote control plane over HTTP.
type Client struct {
	baseURL string
	token   string
	logger  *slog.Logger
	httpc   *http.Client

	maxRetries int
	retry      backoff.Strategy

	// machineID and deploymentID identify this process on claim polls.
	machineID    string
	deploymentID string
}

// New creates a client for the control plane at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		logger:     slog.Default(),
		httpc:      &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
		retry: &backoff.ExponentialWithJitter{
			Initial: 200 * time.Millisecond,
			Max:     5 * time.Second,
		},
		// Each client process is a machine; claims poll under this
		// identity unless the caller pins one.
		machineID: id.NewMachineID().String(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateJobInput is the admission payload.
type CreateJobInput struct {
	Service        string
	TargetFn       string
	Args           []byte
	IdempotencyKey string
	CacheKey       string
}

// CreateJob admits a job and returns the ID the admission converged on.
func (c *Client) CreateJob(ctx context.Context, in CreateJobInput) (jobID string, created bool, err error) {
	var resp api.CreateJobResponse
	err = c.do(ctx, http.MethodPost, "/v1/jobs", api.CreateJobRequest{
		Service:        in.Service,
		TargetFn:       in.TargetFn,
		Args:           in.Args,
		IdempotencyKey: in.IdempotencyKey,
		CacheKey:       in.CacheKey,
	}, &resp)
	if err != nil {
		return "", false, err
	}
	return resp.ID, resp.Created, nil
}

// ClaimInput controls one claim poll.
type ClaimInput struct {
	Service string
	// Limit is the claim batch size. Zero means one.
	Limit int
	// TTL is the long-poll budget. The server caps it.
	TTL time.Duration
}

// ClaimJobs long-polls for work. An empty slice after the TTL is the
// normal idle outcome.
func (c *Client) ClaimJobs(ctx context.Context, in ClaimInput) ([]api.ClaimedJob, error) {
	q := url.Values{}
	q.Set("service", in.Service)
	if in.Limit > 0 {
		q.Set("limit", strconv.Itoa(in.Limit))
	}
	if in.TTL > 0 {
		q.Set("ttlSeconds", strconv.Itoa(int(in.TTL/time.Second)))
	}

	var resp []api.ClaimedJob
	if err := c.do(ctx, http.MethodGet, "/v1/jobs?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ResultInput carries one execution result.
type ResultInput struct {
	Result                []byte
	ResultType            string
	FunctionExecutionTime *float64
}

// SubmitResult reports the outcome of a claimed job.
func (c *Client) SubmitResult(ctx context.Context, jobID string, in ResultInput) error {
	return c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/result", api.SubmitResultRequest{
		Result:                in.Result,
		ResultType:            in.ResultType,
		FunctionExecutionTime: in.FunctionExecutionTime,
	}, nil)
}

// JobStatus reads a job's status, long-polling for up to wait until the
// job finishes.
func (c *Client) JobStatus(ctx context.Context, jobID string, wait time.Duration) (*api.JobStatusResponse, error) {
	path := "/v1/jobs/" + url.PathEscape(jobID)
	if wait > 0 {
		path += "?waitSeconds=" + strconv.Itoa(int(wait/time.Second))
	}

	var resp api.JobStatusResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobCounts returns the tenant's job counts grouped by status.
func (c *Client) JobCounts(ctx context.Context, service string) (*api.JobCountsResponse, error) {
	path := "/v1/jobs/counts"
	if service != "" {
		path += "?service=" + url.QueryEscape(service)
	}

	var resp api.JobCountsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends one request with retries. Transport errors and 5xx responses
// are retried on the backoff schedule; every operation on this API is
// safe to repeat, so POSTs retry too.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("differential/client: marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			delay := c.retry.Delay(attempt - 1)
			c.logger.Debug("retrying request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		retryable, err := c.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any) (retryable bool, err error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return false, fmt.Errorf("differential/client: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.machineID != "" {
		req.Header.Set("x-machine-id", c.machineID)
	}
	if c.deploymentID != "" {
		req.Header.Set("x-deployment-id", c.deploymentID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return true, fmt.Errorf("differential/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return false, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("differential/client: decode response: %w", err)
		}
		return false, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("differential/client: %s %s: %w", method, path, differential.ErrJobNotFound)
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("differential/client: %s %s: status %d", method, path, resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("differential/client: %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
}
