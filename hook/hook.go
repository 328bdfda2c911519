// Package hook defines the lifecycle hook system for the control plane.
// Hooks are notified of lifecycle events (job created, claimed,
// resulted, stalled, recovered) and react to them — the observability
// event sink and the OTel metrics extension are both hooks.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about. Hook errors are logged and never
// propagate into the job lifecycle.
package hook

import (
	"context"

	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/machine"
)

// Extension is the base interface all hook extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobCreated is called after admission persists a new job row. It does
// not fire when an idempotent admission returns an existing row or a
// cached admission short-circuits.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *job.Job) error
}

// JobReceived is called per row after a machine claims jobs.
type JobReceived interface {
	OnJobReceived(ctx context.Context, j *job.Job) error
}

// JobResulted is called after a worker-submitted result is persisted,
// whether the job went terminal or was requeued by the classifier.
type JobResulted interface {
	OnJobResulted(ctx context.Context, j *job.Job) error
}

// JobStalled is called per row when the sweeper fails a job stuck in
// running past its timeout.
type JobStalled interface {
	OnJobStalled(ctx context.Context, j *job.Job) error
}

// JobRecovered is called per row when the sweeper sends a stalled job
// with remaining attempts back to pending.
type JobRecovered interface {
	OnJobRecovered(ctx context.Context, j *job.Job) error
}

// PredictorVerdict is called when the retry classifier judged a
// rejection, with the verdict that was applied.
type PredictorVerdict interface {
	OnPredictorVerdict(ctx context.Context, j *job.Job, retryable bool, reason string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// MachineSeen is called after a machine heartbeat is recorded.
type MachineSeen interface {
	OnMachineSeen(ctx context.Context, m *machine.Machine) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
