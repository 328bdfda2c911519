package job

import (
	"context"
	"time"
)

// ClaimOpts identifies which pending jobs a machine may claim.
type ClaimOpts struct {
	// OwnerHash scopes the claim to one tenant.
	OwnerHash string
	// Service is the routing key the machine consumes.
	Service string
	// Limit is the maximum number of jobs to claim in one statement.
	Limit int
	// MachineID is recorded as the executing machine on claimed rows.
	MachineID string
}

// ResultUpdate carries a worker-submitted result into the store.
type ResultUpdate struct {
	JobID     string
	OwnerHash string

	Result                []byte
	ResultType            ResultType
	FunctionExecutionTime *float64

	// Predicted fields are set only when the retry classifier ran.
	PredictedRetryable       *bool
	PredictedRetryableReason string
}

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Service filters by service name. Empty means all services.
	Service string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// OwnerHash scopes the count to one tenant. Empty means all tenants.
	OwnerHash string
	// Service filters by service name. Empty means all services.
	Service string
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for jobs. Every state
// transition is a single conditional, atomic statement guarded by the
// expected current status; row-level atomicity in the backend is the
// engine's only concurrency control on the request path.
type Store interface {
	// InsertJob persists a new pending job. A duplicate ID returns
	// differential.ErrJobAlreadyExists.
	InsertJob(ctx context.Context, j *Job) error

	// InsertJobIdempotent persists a pending job whose ID is the
	// caller-supplied idempotency key. On conflict it inserts nothing
	// and returns the surviving row's ID with created=false. A second
	// admission with the same (owner, key) is the intended outcome, not
	// an error.
	InsertJobIdempotent(ctx context.Context, j *Job) (jobID string, created bool, err error)

	// FindCachedResult returns the ID of the most recent job matching
	// (ownerHash, service, targetFn, cacheKey) that resolved successfully
	// within the TTL window. Rejections and expired entries never match.
	// A miss returns ("", nil); it is a normal path, not an error.
	FindCachedResult(ctx context.Context, ownerHash, service, targetFn, cacheKey string, ttl time.Duration) (string, error)

	// ClaimJobs atomically transitions up to opts.Limit pending jobs for
	// (owner, service) to running, recording the claiming machine and
	// retrieval time, and returns the claimed rows. Concurrent callers
	// never receive the same row.
	ClaimJobs(ctx context.Context, opts ClaimOpts) ([]*Job, error)

	// GetJob retrieves a job scoped by (jobID, ownerHash).
	GetJob(ctx context.Context, jobID, ownerHash string) (*Job, error)

	// CompleteJob transitions a job to its terminal state and stores the
	// result. The update is scoped by (JobID, OwnerHash) only; zero rows
	// affected returns differential.ErrJobNotFound.
	CompleteJob(ctx context.Context, upd ResultUpdate) (*Job, error)

	// RequeueJob sends a running job whose rejection was classified
	// retryable back to pending, decrementing RemainingAttempts. The
	// statement requires RemainingAttempts > 0; zero rows affected
	// returns differential.ErrJobNotFound so callers can fall back to
	// CompleteJob.
	RequeueJob(ctx context.Context, upd ResultUpdate) (*Job, error)

	// FailStalledJobs marks running jobs whose configured timeout has
	// elapsed since LastRetrievedAt as stalled, returning the affected
	// rows. Jobs without a timeout are never auto-stalled.
	FailStalledJobs(ctx context.Context) ([]*Job, error)

	// RecoverRetryableJobs sends stalled jobs with remaining attempts
	// back to pending, returning the affected rows.
	RecoverRetryableJobs(ctx context.Context) ([]*Job, error)

	// ListJobsByStatus returns jobs for one tenant matching the status.
	ListJobsByStatus(ctx context.Context, ownerHash string, status Status, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
