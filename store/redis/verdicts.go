// Package redis provides the shared verdict cache for the predictive
// retry classifier, backed by go-redis. Multi-node deployments use it
// so every control-plane process benefits from every classification.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/differentialhq/differential-sub000/predictor"
)

const defaultVerdictTTL = 24 * time.Hour

var _ predictor.Cache = (*VerdictCache)(nil)

// VerdictCache stores classifier verdicts keyed by error content hash.
type VerdictCache struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// VerdictCacheOption configures a VerdictCache.
type VerdictCacheOption func(*VerdictCache)

// WithTTL sets how long cached verdicts live. Errors get fixed and
// dependencies come back; verdicts must not outlive that by much.
func WithTTL(ttl time.Duration) VerdictCacheOption {
	return func(c *VerdictCache) { c.ttl = ttl }
}

// NewVerdictCache creates a verdict cache on an existing Redis client.
func NewVerdictCache(client goredis.UniversalClient, opts ...VerdictCacheOption) *VerdictCache {
	c := &VerdictCache{
		client: client,
		ttl:    defaultVerdictTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func verdictKey(key string) string {
	return "differential:verdict:" + key
}

// GetVerdict implements predictor.Cache.
func (c *VerdictCache) GetVerdict(ctx context.Context, key string) (predictor.Verdict, bool, error) {
	data, err := c.client.Get(ctx, verdictKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return predictor.Verdict{}, false, nil
		}
		return predictor.Verdict{}, false, fmt.Errorf("differential/redis: get verdict: %w", err)
	}

	var v predictor.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return predictor.Verdict{}, false, fmt.Errorf("differential/redis: decode verdict: %w", err)
	}
	return v, true, nil
}

// PutVerdict implements predictor.Cache.
func (c *VerdictCache) PutVerdict(ctx context.Context, key string, v predictor.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("differential/redis: encode verdict: %w", err)
	}
	if err := c.client.Set(ctx, verdictKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("differential/redis: put verdict: %w", err)
	}
	return nil
}
