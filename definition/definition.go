// Package definition holds the per-owner service definition document and
// the short-TTL read-through cache admission consults for per-function
// policy. Staleness up to the cache TTL is a deliberate
// availability/consistency tradeoff.
package definition

import (
	"context"
	"time"
)

// FunctionPolicy is the execution policy for one target function.
type FunctionPolicy struct {
	// MaxAttempts is the number of executions the job may consume,
	// including the first. Zero means use the engine default (1).
	MaxAttempts int `json:"max_attempts,omitempty"`

	// TimeoutIntervalSeconds bounds a single execution. Nil disables
	// stall detection for jobs of this function.
	TimeoutIntervalSeconds *int `json:"timeout_interval_seconds,omitempty"`

	// CacheTTLSeconds is the freshness window for cached-strategy
	// admission. Zero disables result caching for this function.
	CacheTTLSeconds int `json:"cache_ttl_seconds,omitempty"`
}

// Service groups the function policies registered under one service name.
type Service struct {
	Functions map[string]FunctionPolicy `json:"functions,omitempty"`
}

// Document is the cluster-wide definition document for one owner.
type Document struct {
	OwnerHash string `json:"owner_hash"`

	// PredictiveRetries enables the retry classifier for rejections
	// submitted by this owner's machines.
	PredictiveRetries bool `json:"predictive_retries"`

	Services map[string]Service `json:"services,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Policy resolves the policy for (service, targetFn). Unregistered
// functions get the zero policy; callers apply engine defaults.
func (d *Document) Policy(service, targetFn string) FunctionPolicy {
	if d == nil || d.Services == nil {
		return FunctionPolicy{}
	}
	svc, ok := d.Services[service]
	if !ok {
		return FunctionPolicy{}
	}
	return svc.Functions[targetFn]
}

// Store defines the persistence contract for definition documents.
type Store interface {
	// GetDefinition retrieves the document for an owner. A missing
	// document returns differential.ErrDefinitionNotFound.
	GetDefinition(ctx context.Context, ownerHash string) (*Document, error)

	// PutDefinition inserts or replaces the document for its owner.
	PutDefinition(ctx context.Context, d *Document) error
}
