// Package engine wires the control-plane subsystems together: admission,
// dequeue, results, the sweeper, the hook registry, and the stores. It
// sits above all subsystem packages and below the HTTP surface; the api
// package calls into an Engine, and tests drive one directly against
// the memory store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/admission"
	"github.com/differentialhq/differential-sub000/definition"
	"github.com/differentialhq/differential-sub000/dequeue"
	"github.com/differentialhq/differential-sub000/event"
	"github.com/differentialhq/differential-sub000/hook"
	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/machine"
	"github.com/differentialhq/differential-sub000/mutex"
	"github.com/differentialhq/differential-sub000/observability"
	"github.com/differentialhq/differential-sub000/predictor"
	"github.com/differentialhq/differential-sub000/result"
	"github.com/differentialhq/differential-sub000/sweeper"
	"github.com/differentialhq/differential-sub000/tenant"
)

// Engine is the assembled control plane.
type Engine struct {
	cfg    differential.Config
	logger *slog.Logger
	hooks  *hook.Registry

	jobs      job.Store
	machines  machine.Store
	events    event.Store
	defsStore definition.Store
	defs      *definition.Cache

	admission *admission.Service
	dequeue   *dequeue.Service
	results   *result.Service
	sweep     *sweeper.Sweeper

	pred *predictor.Service

	// extra extensions registered before wiring.
	extensions []hook.Extension
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the default configuration.
func WithConfig(cfg differential.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithExtension registers a lifecycle hook extension.
func WithExtension(ext hook.Extension) Option {
	return func(e *Engine) { e.extensions = append(e.extensions, ext) }
}

// WithPredictor enables predictive retry classification. Without it,
// rejections always go terminal.
func WithPredictor(p *predictor.Service) Option {
	return func(e *Engine) { e.pred = p }
}

// New assembles an engine on the given store backend. The store must
// implement job.Store, machine.Store, definition.Store, event.Store,
// and mutex.Locker; the store packages satisfy all of them with one
// backend.
func New(store any, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, differential.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("differential: store does not implement job.Store")
	}
	ms, ok := store.(machine.Store)
	if !ok {
		return nil, fmt.Errorf("differential: store does not implement machine.Store")
	}
	es, ok := store.(event.Store)
	if !ok {
		return nil, fmt.Errorf("differential: store does not implement event.Store")
	}
	ds, ok := store.(definition.Store)
	if !ok {
		return nil, fmt.Errorf("differential: store does not implement definition.Store")
	}
	locker, ok := store.(mutex.Locker)
	if !ok {
		return nil, fmt.Errorf("differential: store does not implement mutex.Locker")
	}

	e := &Engine{
		cfg:       differential.DefaultConfig(),
		logger:    slog.Default(),
		jobs:      js,
		machines:  ms,
		events:    es,
		defsStore: ds,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.hooks = hook.NewRegistry(e.logger)
	e.hooks.Register(event.NewSink(es, e.logger))
	e.hooks.Register(observability.NewMetricsExtension())
	for _, ext := range e.extensions {
		e.hooks.Register(ext)
	}

	e.defs = definition.NewCache(ds, definition.WithTTL(e.cfg.DefinitionCacheTTL))
	activity := tenant.NewActivity(e.cfg.HotWindow)
	limiter := tenant.NewLimiter(e.cfg.ClaimsPerSecond, e.cfg.ClaimBurst)

	e.admission = admission.NewService(js, e.defs, e.hooks, activity, e.cfg, e.logger)
	e.dequeue = dequeue.NewService(js, ms, e.hooks, limiter, activity, e.cfg, e.logger)
	e.results = result.NewService(js, e.defs, e.pred, e.hooks, e.logger)

	sw, err := sweeper.New(js, ms, locker, e.hooks, e.logger,
		e.cfg.SweepSchedule, e.cfg.SweepLockName, e.cfg.MachineStaleThreshold)
	if err != nil {
		return nil, err
	}
	e.sweep = sw

	return e, nil
}

// Start launches the background sweeper.
func (e *Engine) Start(ctx context.Context) error {
	return e.sweep.Start(ctx)
}

// Stop shuts the engine down: the sweeper finishes its current pass and
// extensions get their shutdown hook.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.sweep.Stop(ctx); err != nil {
		return err
	}
	e.hooks.EmitShutdown(ctx)
	return nil
}

// CreateJob admits one job.
func (e *Engine) CreateJob(ctx context.Context, req admission.Request) (jobID string, created bool, err error) {
	return e.admission.Admit(ctx, req)
}

// ClaimJobs long-polls for work on behalf of a machine.
func (e *Engine) ClaimJobs(ctx context.Context, req dequeue.Request) ([]*job.Job, error) {
	return e.dequeue.Claim(ctx, req)
}

// SubmitResult records one execution result.
func (e *Engine) SubmitResult(ctx context.Context, req result.Request) (*job.Job, error) {
	return e.results.Submit(ctx, req)
}

// GetJobStatus reads a job row, optionally long-polling until the job
// finishes or the wait budget expires. A zero wait is a plain read.
func (e *Engine) GetJobStatus(ctx context.Context, jobID, ownerHash string, wait time.Duration) (*job.Job, error) {
	deadline := time.Now().Add(wait)
	for {
		j, err := e.jobs.GetJob(ctx, jobID, ownerHash)
		if err != nil {
			return nil, err
		}
		if j.Finished() || !time.Now().Add(e.cfg.StatusPollInterval).Before(deadline) {
			return j, nil
		}

		timer := time.NewTimer(e.cfg.StatusPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// ListJobs returns one tenant's jobs matching the status.
func (e *Engine) ListJobs(ctx context.Context, ownerHash string, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	return e.jobs.ListJobsByStatus(ctx, ownerHash, status, opts)
}

// CountJobs returns per-status job counts for one tenant, optionally
// filtered by service.
func (e *Engine) CountJobs(ctx context.Context, ownerHash, service string) (map[job.Status]int64, error) {
	counts := make(map[job.Status]int64, 4)
	for _, status := range []job.Status{job.StatusPending, job.StatusRunning, job.StatusTerminal, job.StatusStalled} {
		n, err := e.jobs.CountJobs(ctx, job.CountOpts{OwnerHash: ownerHash, Service: service, Status: status})
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, nil
}

// ListMachines returns one tenant's machines.
func (e *Engine) ListMachines(ctx context.Context, ownerHash string) ([]*machine.Machine, error) {
	return e.machines.ListMachines(ctx, ownerHash)
}

// ListEvents returns one tenant's activity log rows.
func (e *Engine) ListEvents(ctx context.Context, ownerHash string, opts event.ListOpts) ([]*event.Event, error) {
	return e.events.ListEvents(ctx, ownerHash, opts)
}

// GetDefinition returns one tenant's service definition document.
func (e *Engine) GetDefinition(ctx context.Context, ownerHash string) (*definition.Document, error) {
	return e.defsStore.GetDefinition(ctx, ownerHash)
}

// PutDefinition replaces one tenant's service definition document and
// invalidates this process's cache entry. Other replicas converge
// within the cache TTL.
func (e *Engine) PutDefinition(ctx context.Context, d *definition.Document) error {
	if err := e.defsStore.PutDefinition(ctx, d); err != nil {
		return err
	}
	e.defs.Invalidate(d.OwnerHash)
	return nil
}

// Sweeper returns the engine's sweeper, for operational tooling that
// wants to trigger a pass directly.
func (e *Engine) Sweeper() *sweeper.Sweeper { return e.sweep }

// Hooks returns the hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Config returns the engine configuration.
func (e *Engine) Config() differential.Config { return e.cfg }
