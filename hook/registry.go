package hook

import (
	"context"
	"log/slog"

	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/machine"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobCreatedEntry struct {
	name string
	hook JobCreated
}

type jobReceivedEntry struct {
	name string
	hook JobReceived
}

type jobResultedEntry struct {
	name string
	hook JobResulted
}

type jobStalledEntry struct {
	name string
	hook JobStalled
}

type jobRecoveredEntry struct {
	name string
	hook JobRecovered
}

type predictorVerdictEntry struct {
	name string
	hook PredictorVerdict
}

type machineSeenEntry struct {
	name string
	hook MachineSeen
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobCreated       []jobCreatedEntry
	jobReceived      []jobReceivedEntry
	jobResulted      []jobResultedEntry
	jobStalled       []jobStalledEntry
	jobRecovered     []jobRecoveredEntry
	predictorVerdict []predictorVerdictEntry
	machineSeen      []machineSeenEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobCreated); ok {
		r.jobCreated = append(r.jobCreated, jobCreatedEntry{name, h})
	}
	if h, ok := e.(JobReceived); ok {
		r.jobReceived = append(r.jobReceived, jobReceivedEntry{name, h})
	}
	if h, ok := e.(JobResulted); ok {
		r.jobResulted = append(r.jobResulted, jobResultedEntry{name, h})
	}
	if h, ok := e.(JobStalled); ok {
		r.jobStalled = append(r.jobStalled, jobStalledEntry{name, h})
	}
	if h, ok := e.(JobRecovered); ok {
		r.jobRecovered = append(r.jobRecovered, jobRecoveredEntry{name, h})
	}
	if h, ok := e.(PredictorVerdict); ok {
		r.predictorVerdict = append(r.predictorVerdict, predictorVerdictEntry{name, h})
	}
	if h, ok := e.(MachineSeen); ok {
		r.machineSeen = append(r.machineSeen, machineSeenEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitJobCreated notifies all extensions that implement JobCreated.
func (r *Registry) EmitJobCreated(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCreated {
		if err := e.hook.OnJobCreated(ctx, j); err != nil {
			r.logHookError("OnJobCreated", e.name, err)
		}
	}
}

// EmitJobReceived notifies all extensions that implement JobReceived.
func (r *Registry) EmitJobReceived(ctx context.Context, j *job.Job) {
	for _, e := range r.jobReceived {
		if err := e.hook.OnJobReceived(ctx, j); err != nil {
			r.logHookError("OnJobReceived", e.name, err)
		}
	}
}

// EmitJobResulted notifies all extensions that implement JobResulted.
func (r *Registry) EmitJobResulted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobResulted {
		if err := e.hook.OnJobResulted(ctx, j); err != nil {
			r.logHookError("OnJobResulted", e.name, err)
		}
	}
}

// EmitJobStalled notifies all extensions that implement JobStalled.
func (r *Registry) EmitJobStalled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStalled {
		if err := e.hook.OnJobStalled(ctx, j); err != nil {
			r.logHookError("OnJobStalled", e.name, err)
		}
	}
}

// EmitJobRecovered notifies all extensions that implement JobRecovered.
func (r *Registry) EmitJobRecovered(ctx context.Context, j *job.Job) {
	for _, e := range r.jobRecovered {
		if err := e.hook.OnJobRecovered(ctx, j); err != nil {
			r.logHookError("OnJobRecovered", e.name, err)
		}
	}
}

// EmitPredictorVerdict notifies all extensions that implement PredictorVerdict.
func (r *Registry) EmitPredictorVerdict(ctx context.Context, j *job.Job, retryable bool, reason string) {
	for _, e := range r.predictorVerdict {
		if err := e.hook.OnPredictorVerdict(ctx, j, retryable, reason); err != nil {
			r.logHookError("OnPredictorVerdict", e.name, err)
		}
	}
}

// EmitMachineSeen notifies all extensions that implement MachineSeen.
func (r *Registry) EmitMachineSeen(ctx context.Context, m *machine.Machine) {
	for _, e := range r.machineSeen {
		if err := e.hook.OnMachineSeen(ctx, m); err != nil {
			r.logHookError("OnMachineSeen", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
