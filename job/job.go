package job

import "time"

// Status represents the lifecycle state of a job.
//
// The string values are fixed by the public HTTP contract and are
// deliberately narrower than the concepts they name: the wire value
// "success" covers every finished execution, including business-level
// rejections, and "failure" means the job stalled in running past its
// timeout, not that the function call failed. The constant names carry
// the real meaning; the wire values exist only at the serialization
// boundary.
type Status string

const (
	// StatusPending means the job is waiting to be claimed by a machine.
	StatusPending Status = "pending"
	// StatusRunning means a machine has claimed the job and is executing it.
	StatusRunning Status = "running"
	// StatusTerminal means a result was persisted. Wire value "success".
	StatusTerminal Status = "success"
	// StatusStalled means the job sat in running past its timeout, most
	// likely because the executing machine died. Wire value "failure".
	// Stalled jobs with remaining attempts are recovered by the sweeper;
	// without attempts the state is final.
	StatusStalled Status = "failure"
)

// ResultType distinguishes how a function call finished.
type ResultType string

const (
	// ResultResolution means the function returned a value.
	ResultResolution ResultType = "resolution"
	// ResultRejection means the function threw. Rejections are still
	// persisted under StatusTerminal unless the predictive retry
	// classifier sends the job back to pending.
	ResultRejection ResultType = "rejection"
)

// Job is a unit of work owned by a tenant and executed by a remote
// machine. The engine never interprets TargetArgs or Result; both are
// opaque serialized payloads.
type Job struct {
	// ID is an opaque identifier. Default admission generates a
	// prefix-typed ID; idempotent admission uses the caller-supplied
	// idempotency key verbatim.
	ID string `json:"id"`

	// OwnerHash is the tenant boundary. Every query is scoped by it.
	OwnerHash string `json:"owner_hash"`

	// Service and TargetFn form the routing key machines claim by.
	Service    string `json:"service"`
	TargetFn   string `json:"target_fn"`
	TargetArgs []byte `json:"target_args,omitempty"`

	// IdempotencyKey, when set, guarantees at most one row per
	// (OwnerHash, IdempotencyKey).
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CacheKey, when set, lets later admissions short-circuit to this
	// job's result while it is fresh.
	CacheKey string `json:"cache_key,omitempty"`

	Status     Status     `json:"status"`
	Result     []byte     `json:"result,omitempty"`
	ResultType ResultType `json:"result_type,omitempty"`

	// RemainingAttempts is decremented each time the sweeper recovers
	// the job after a stall. It never increases; at zero a stall is final.
	RemainingAttempts int `json:"remaining_attempts"`

	// TimeoutIntervalSeconds bounds a single execution. Nil means the
	// sweeper never considers this job stalled.
	TimeoutIntervalSeconds *int `json:"timeout_interval_seconds,omitempty"`

	// ExecutingMachineID and LastRetrievedAt are set at claim time and
	// drive stall detection.
	ExecutingMachineID string     `json:"executing_machine_id,omitempty"`
	LastRetrievedAt    *time.Time `json:"last_retrieved_at,omitempty"`

	// FunctionExecutionTime is the worker-reported execution duration in
	// milliseconds.
	FunctionExecutionTime *float64 `json:"function_execution_time,omitempty"`

	// PredictedRetryable fields are populated only when the predictive
	// retry classifier ran for this job's rejection.
	PredictedRetryable       *bool  `json:"predicted_retryable,omitempty"`
	PredictedRetryableReason string `json:"predicted_retryable_reason,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResultedAt *time.Time `json:"resulted_at,omitempty"`
}

// Finished reports whether the job reached a state the caller of a
// status poll should stop waiting on: a persisted result, or a stall
// with no attempts left.
func (j *Job) Finished() bool {
	if j.Status == StatusTerminal {
		return true
	}
	return j.Status == StatusStalled && j.RemainingAttempts == 0
}
