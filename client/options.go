package client

import (
	"log/slog"
	"net/http"

	"github.com/differentialhq/differential-sub000/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the authentication secret sent as a Bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient replaces the underlying HTTP client. The default has a
// 60 second timeout, sized to sit above the server's claim TTL cap.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithRetry sets the retry budget and backoff schedule for transport
// errors and 5xx responses.
func WithRetry(maxRetries int, strategy backoff.Strategy) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retry = strategy
	}
}

// WithMachineID identifies this process on claim polls. The server
// records a heartbeat for the machine on every poll.
func WithMachineID(machineID string) Option {
	return func(c *Client) { c.machineID = machineID }
}

// WithDeploymentID associates claim heartbeats with a provisioned
// deployment.
func WithDeploymentID(deploymentID string) Option {
	return func(c *Client) { c.deploymentID = deploymentID }
}
