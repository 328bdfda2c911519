// Package admission accepts jobs into the control plane. A request's
// shape selects the strategy: an idempotency key makes admission
// deduplicating, a cache key makes it result-reusing, and a bare
// request always creates a fresh job.
package admission

import (
	"context"
	"log/slog"
	"time"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/definition"
	"github.com/differentialhq/differential-sub000/hook"
	"github.com/differentialhq/differential-sub000/id"
	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/tenant"
)

// Request is one job submission.
type Request struct {
	OwnerHash string
	Service   string
	TargetFn  string
	Args      []byte

	// IdempotencyKey selects idempotent admission. The key becomes the
	// job ID, so resubmissions converge on the same row.
	IdempotencyKey string

	// CacheKey selects cached admission when the target function has a
	// result cache TTL configured.
	CacheKey string
}

// Service admits jobs, resolving per-function policy through the
// definition cache.
type Service struct {
	jobs     job.Store
	defs     *definition.Cache
	hooks    *hook.Registry
	activity *tenant.Activity
	cfg      differential.Config
	logger   *slog.Logger
}

// NewService creates an admission service.
func NewService(jobs job.Store, defs *definition.Cache, hooks *hook.Registry, activity *tenant.Activity, cfg differential.Config, logger *slog.Logger) *Service {
	return &Service{jobs: jobs, defs: defs, hooks: hooks, activity: activity, cfg: cfg, logger: logger}
}

// Admit accepts one job. It returns the ID the caller should poll:
// a fresh row, the surviving row of an idempotent resubmission, or an
// earlier job whose cached result is still fresh. created reports
// whether a new row was persisted.
func (s *Service) Admit(ctx context.Context, req Request) (jobID string, created bool, err error) {
	if req.OwnerHash == "" {
		return "", false, differential.ErrMissingOwner
	}
	if req.Service == "" {
		return "", false, differential.ErrMissingService
	}
	if req.TargetFn == "" {
		return "", false, differential.ErrMissingTargetFn
	}

	doc, err := s.defs.Get(ctx, req.OwnerHash)
	if err != nil {
		return "", false, err
	}
	policy := doc.Policy(req.Service, req.TargetFn)

	// Cached admission short-circuits before any insert.
	if req.CacheKey != "" && policy.CacheTTLSeconds > 0 {
		ttl := time.Duration(policy.CacheTTLSeconds) * time.Second
		hit, err := s.jobs.FindCachedResult(ctx, req.OwnerHash, req.Service, req.TargetFn, req.CacheKey, ttl)
		if err != nil {
			return "", false, err
		}
		if hit != "" {
			return hit, false, nil
		}
	}

	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = s.cfg.DefaultMaxAttempts
	}

	j := &job.Job{
		ID:                     id.NewJobID().String(),
		OwnerHash:              req.OwnerHash,
		Service:                req.Service,
		TargetFn:               req.TargetFn,
		TargetArgs:             req.Args,
		CacheKey:               req.CacheKey,
		Status:                 job.StatusPending,
		RemainingAttempts:      attempts,
		TimeoutIntervalSeconds: policy.TimeoutIntervalSeconds,
	}

	if req.IdempotencyKey != "" {
		// The idempotency key is the job ID: the insert conflicts on
		// resubmission and the first row survives.
		j.ID = req.IdempotencyKey
		j.IdempotencyKey = req.IdempotencyKey

		jobID, created, err = s.jobs.InsertJobIdempotent(ctx, j)
		if err != nil {
			return "", false, err
		}
	} else {
		if err := s.jobs.InsertJob(ctx, j); err != nil {
			return "", false, err
		}
		jobID, created = j.ID, true
	}

	s.activity.MarkActive(req.OwnerHash)
	if created {
		s.hooks.EmitJobCreated(ctx, j)
		s.logger.Debug("job admitted",
			slog.String("job_id", jobID),
			slog.String("service", req.Service),
			slog.String("target_fn", req.TargetFn),
		)
	}
	return jobID, created, nil
}
