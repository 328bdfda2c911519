// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/definition"
	"github.com/differentialhq/differential-sub000/event"
	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/machine"
	"github.com/differentialhq/differential-sub000/mutex"
	"github.com/differentialhq/differential-sub000/store"
)

// Verify each subsystem contract and the aggregate at compile time.
var (
	_ job.Store        = (*Store)(nil)
	_ machine.Store    = (*Store)(nil)
	_ event.Store      = (*Store)(nil)
	_ definition.Store = (*Store)(nil)
	_ mutex.Locker     = (*Store)(nil)
	_ store.Store      = (*Store)(nil)
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs        map[string]*job.Job
	machines    map[string]*machine.Machine
	events      []*event.Event
	definitions map[string]*definition.Document
	locks       map[string]struct{}

	// now is replaceable so tests can control stall timing.
	now func() time.Time

	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:        make(map[string]*job.Job),
		machines:    make(map[string]*machine.Machine),
		definitions: make(map[string]*definition.Document),
		locks:       make(map[string]struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return differential.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is retained so tests can still
// inspect it.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// InsertJob persists a new pending job.
func (m *Store) InsertJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[j.ID]; exists {
		return differential.ErrJobAlreadyExists
	}
	cp := *j
	now := m.now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.jobs[cp.ID] = &cp
	return nil
}

// InsertJobIdempotent persists a pending job keyed by its
// caller-supplied ID, returning the surviving row on conflict. A
// conflicting row owned by another tenant is rejected rather than
// leaked across the tenant boundary.
func (m *Store) InsertJobIdempotent(_ context.Context, j *job.Job) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.jobs[j.ID]; ok {
		if existing.OwnerHash != j.OwnerHash {
			return "", false, differential.ErrJobAlreadyExists
		}
		return existing.ID, false, nil
	}
	cp := *j
	now := m.now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.jobs[cp.ID] = &cp
	return cp.ID, true, nil
}

// FindCachedResult returns the most recent fresh resolution for the
// cache key, or "" on a miss.
func (m *Store) FindCachedResult(_ context.Context, ownerHash, service, targetFn, cacheKey string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().UTC().Add(-ttl)
	var best *job.Job
	for _, j := range m.jobs {
		if j.OwnerHash != ownerHash || j.Service != service || j.TargetFn != targetFn || j.CacheKey != cacheKey {
			continue
		}
		if j.Status != job.StatusTerminal || j.ResultType != job.ResultResolution {
			continue
		}
		if j.ResultedAt == nil || j.ResultedAt.Before(cutoff) {
			continue
		}
		if best == nil || j.ResultedAt.After(*best.ResultedAt) {
			best = j
		}
	}
	if best == nil {
		return "", nil
	}
	return best.ID, nil
}

// ClaimJobs atomically transitions up to opts.Limit pending jobs to
// running and returns them.
func (m *Store) ClaimJobs(_ context.Context, opts job.ClaimOpts) ([]*job.Job, error) {
	// A non-positive limit claims nothing, matching the SQL backend's
	// LIMIT semantics. Callers choose their own default batch size.
	if opts.Limit <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*job.Job, 0, opts.Limit)
	for _, j := range m.jobs {
		if j.Status != job.StatusPending {
			continue
		}
		if j.OwnerHash != opts.OwnerHash || j.Service != opts.Service {
			continue
		}
		candidates = append(candidates, j)
	}

	// Oldest first, ties broken by ID for determinism.
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].ID < candidates[k].ID
	})
	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	now := m.now().UTC()
	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.Status = job.StatusRunning
		j.ExecutingMachineID = opts.MachineID
		t := now
		j.LastRetrievedAt = &t
		j.UpdatedAt = now
		cp := *j
		result[i] = &cp
	}
	return result, nil
}

// GetJob retrieves a job scoped by (jobID, ownerHash).
func (m *Store) GetJob(_ context.Context, jobID, ownerHash string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok || j.OwnerHash != ownerHash {
		return nil, differential.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// CompleteJob transitions a job to its terminal state and stores the result.
func (m *Store) CompleteJob(_ context.Context, upd job.ResultUpdate) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[upd.JobID]
	if !ok || j.OwnerHash != upd.OwnerHash {
		return nil, differential.ErrJobNotFound
	}

	now := m.now().UTC()
	j.Status = job.StatusTerminal
	j.Result = upd.Result
	j.ResultType = upd.ResultType
	j.FunctionExecutionTime = upd.FunctionExecutionTime
	j.PredictedRetryable = upd.PredictedRetryable
	j.PredictedRetryableReason = upd.PredictedRetryableReason
	t := now
	j.ResultedAt = &t
	j.UpdatedAt = now

	cp := *j
	return &cp, nil
}

// RequeueJob sends a running job back to pending, consuming an attempt.
func (m *Store) RequeueJob(_ context.Context, upd job.ResultUpdate) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[upd.JobID]
	if !ok || j.OwnerHash != upd.OwnerHash {
		return nil, differential.ErrJobNotFound
	}
	if j.Status != job.StatusRunning || j.RemainingAttempts <= 0 {
		return nil, differential.ErrJobNotFound
	}

	now := m.now().UTC()
	j.Status = job.StatusPending
	j.RemainingAttempts--
	j.Result = upd.Result
	j.ResultType = upd.ResultType
	j.FunctionExecutionTime = upd.FunctionExecutionTime
	j.PredictedRetryable = upd.PredictedRetryable
	j.PredictedRetryableReason = upd.PredictedRetryableReason
	j.ExecutingMachineID = ""
	j.LastRetrievedAt = nil
	j.UpdatedAt = now

	cp := *j
	return &cp, nil
}

// FailStalledJobs marks timed-out running jobs as stalled.
func (m *Store) FailStalledJobs(_ context.Context) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	var stalled []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusRunning || j.TimeoutIntervalSeconds == nil || j.LastRetrievedAt == nil {
			continue
		}
		timeout := time.Duration(*j.TimeoutIntervalSeconds) * time.Second
		if now.Sub(*j.LastRetrievedAt) <= timeout {
			continue
		}
		j.Status = job.StatusStalled
		j.UpdatedAt = now
		cp := *j
		stalled = append(stalled, &cp)
	}
	sortByID(stalled)
	return stalled, nil
}

// RecoverRetryableJobs sends stalled jobs with remaining attempts back
// to pending.
func (m *Store) RecoverRetryableJobs(_ context.Context) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	var recovered []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusStalled || j.RemainingAttempts <= 0 {
			continue
		}
		j.Status = job.StatusPending
		j.RemainingAttempts--
		j.ExecutingMachineID = ""
		j.LastRetrievedAt = nil
		j.UpdatedAt = now
		cp := *j
		recovered = append(recovered, &cp)
	}
	sortByID(recovered)
	return recovered, nil
}

// ListJobsByStatus returns one tenant's jobs matching the status.
func (m *Store) ListJobsByStatus(_ context.Context, ownerHash string, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.OwnerHash != ownerHash || j.Status != status {
			continue
		}
		if opts.Service != "" && j.Service != opts.Service {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountJobs returns the number of jobs matching the options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if opts.OwnerHash != "" && j.OwnerHash != opts.OwnerHash {
			continue
		}
		if opts.Service != "" && j.Service != opts.Service {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		n++
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Machine store
// ──────────────────────────────────────────────────

// UpsertMachine records a heartbeat.
func (m *Store) UpsertMachine(_ context.Context, mc *machine.Machine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *mc
	if existing, ok := m.machines[mc.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = m.now().UTC()
	}
	if cp.LastSeen.IsZero() {
		cp.LastSeen = m.now().UTC()
	}
	m.machines[cp.ID] = &cp
	return nil
}

// GetMachine retrieves a machine scoped by (machineID, ownerHash).
func (m *Store) GetMachine(_ context.Context, machineID, ownerHash string) (*machine.Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mc, ok := m.machines[machineID]
	if !ok || mc.OwnerHash != ownerHash {
		return nil, differential.ErrMachineNotFound
	}
	cp := *mc
	return &cp, nil
}

// ListMachines returns a tenant's machines, most recently seen first.
func (m *Store) ListMachines(_ context.Context, ownerHash string) ([]*machine.Machine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*machine.Machine, 0)
	for _, mc := range m.machines {
		if mc.OwnerHash != ownerHash {
			continue
		}
		cp := *mc
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].LastSeen.After(result[k].LastSeen)
	})
	return result, nil
}

// ReapDeadMachines removes machines past the heartbeat threshold.
func (m *Store) ReapDeadMachines(_ context.Context, threshold time.Duration) ([]*machine.Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().UTC().Add(-threshold)
	var reaped []*machine.Machine
	for key, mc := range m.machines {
		if mc.LastSeen.After(cutoff) {
			continue
		}
		cp := *mc
		reaped = append(reaped, &cp)
		delete(m.machines, key)
	}
	return reaped, nil
}

// ──────────────────────────────────────────────────
// Event store
// ──────────────────────────────────────────────────

// AppendEvent persists one activity log row.
func (m *Store) AppendEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now().UTC()
	}
	m.events = append(m.events, &cp)
	return nil
}

// ListEvents returns activity log rows for an owner, newest first.
func (m *Store) ListEvents(_ context.Context, ownerHash string, opts event.ListOpts) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*event.Event, 0)
	for _, evt := range m.events {
		if evt.OwnerHash != ownerHash {
			continue
		}
		if opts.JobID != "" && evt.JobID != opts.JobID {
			continue
		}
		cp := *evt
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Definition store
// ──────────────────────────────────────────────────

// GetDefinition retrieves the definition document for an owner.
func (m *Store) GetDefinition(_ context.Context, ownerHash string) (*definition.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.definitions[ownerHash]
	if !ok {
		return nil, differential.ErrDefinitionNotFound
	}
	cp := *doc
	return &cp, nil
}

// PutDefinition inserts or replaces the document for its owner.
func (m *Store) PutDefinition(_ context.Context, d *definition.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	cp.UpdatedAt = m.now().UTC()
	m.definitions[cp.OwnerHash] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Locker
// ──────────────────────────────────────────────────

// TryAcquire implements mutex.Locker with a process-local lock set.
func (m *Store) TryAcquire(_ context.Context, name string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.locks[name]; held {
		return nil, false, nil
	}
	m.locks[name] = struct{}{}
	release := func() {
		m.mu.Lock()
		delete(m.locks, name)
		m.mu.Unlock()
	}
	return release, true, nil
}

func sortByID(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
}
