// Package result persists worker-submitted execution results and runs
// the predictive retry pipeline. A rejection from an owner with
// predictive retries enabled is classified before it is allowed to go
// terminal; transient failures are requeued invisibly to the caller.
package result

import (
	"context"
	"errors"
	"log/slog"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/definition"
	"github.com/differentialhq/differential-sub000/hook"
	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/predictor"
)

// Request is one worker-submitted result.
type Request struct {
	JobID     string
	OwnerHash string

	Result                []byte
	ResultType            job.ResultType
	FunctionExecutionTime *float64
}

// Service persists results.
type Service struct {
	jobs   job.Store
	defs   *definition.Cache
	pred   *predictor.Service
	hooks  *hook.Registry
	logger *slog.Logger
}

// NewService creates a result service. pred may be nil to disable
// predictive retries globally.
func NewService(jobs job.Store, defs *definition.Cache, pred *predictor.Service, hooks *hook.Registry, logger *slog.Logger) *Service {
	return &Service{jobs: jobs, defs: defs, pred: pred, hooks: hooks, logger: logger}
}

// Submit records one execution result and returns the job row as
// persisted. Resolutions and unclassified rejections go terminal;
// rejections classified retryable consume an attempt and go back to
// pending. Updates are scoped by (job, owner): a stale machine
// submitting against a row the sweeper already recovered simply
// overwrites the result, which at-least-once delivery permits.
func (s *Service) Submit(ctx context.Context, req Request) (*job.Job, error) {
	j, err := s.jobs.GetJob(ctx, req.JobID, req.OwnerHash)
	if err != nil {
		return nil, err
	}

	upd := job.ResultUpdate{
		JobID:                 req.JobID,
		OwnerHash:             req.OwnerHash,
		Result:                req.Result,
		ResultType:            req.ResultType,
		FunctionExecutionTime: req.FunctionExecutionTime,
	}

	var verdict *predictor.Verdict
	if req.ResultType == job.ResultRejection && s.pred != nil {
		doc, err := s.defs.Get(ctx, req.OwnerHash)
		if err != nil {
			return nil, err
		}
		if doc.PredictiveRetries {
			v := s.pred.Classify(ctx, req.Result)
			verdict = &v
			upd.PredictedRetryable = &v.Retryable
			upd.PredictedRetryableReason = v.Reason
		}
	}

	var updated *job.Job
	if verdict != nil && verdict.Retryable && j.RemainingAttempts > 0 {
		updated, err = s.jobs.RequeueJob(ctx, upd)
		if errors.Is(err, differential.ErrJobNotFound) {
			// The guarded requeue lost a race (attempts consumed or the
			// row left running). The result stands as submitted.
			updated, err = s.jobs.CompleteJob(ctx, upd)
		}
	} else {
		updated, err = s.jobs.CompleteJob(ctx, upd)
	}
	if err != nil {
		return nil, err
	}

	if verdict != nil {
		s.hooks.EmitPredictorVerdict(ctx, updated, verdict.Retryable, verdict.Reason)
	}
	s.hooks.EmitJobResulted(ctx, updated)

	s.logger.Debug("result recorded",
		slog.String("job_id", updated.ID),
		slog.String("status", string(updated.Status)),
	)
	return updated, nil
}
