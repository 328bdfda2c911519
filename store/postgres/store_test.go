//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/definition"
	"github.com/differentialhq/differential-sub000/event"
	"github.com/differentialhq/differential-sub000/id"
	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/machine"
	"github.com/differentialhq/differential-sub000/store/postgres"
)

// setupTestStore creates a Postgres container and returns a connected Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("differential_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return store
}

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	// Second migrate should be a no-op.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestJobStore_InsertAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	timeout := 30
	j := &job.Job{
		ID:                     id.NewJobID().String(),
		OwnerHash:              "owner-a",
		Service:                "billing",
		TargetFn:               "charge",
		TargetArgs:             []byte(`[42]`),
		Status:                 job.StatusPending,
		RemainingAttempts:      3,
		TimeoutIntervalSeconds: &timeout,
	}
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if err := s.InsertJob(ctx, j); !errors.Is(err, differential.ErrJobAlreadyExists) {
		t.Fatalf("duplicate insert: got %v", err)
	}

	got, err := s.GetJob(ctx, j.ID, "owner-a")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Service != "billing" || got.RemainingAttempts != 3 {
		t.Fatalf("got %+v", got)
	}
	if got.TimeoutIntervalSeconds == nil || *got.TimeoutIntervalSeconds != 30 {
		t.Fatalf("timeout = %v", got.TimeoutIntervalSeconds)
	}

	// Tenant scoping.
	if _, err := s.GetJob(ctx, j.ID, "owner-b"); !errors.Is(err, differential.ErrJobNotFound) {
		t.Fatalf("cross-tenant get: %v", err)
	}
}

func TestJobStore_InsertIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := &job.Job{
		ID: "invoice-7", OwnerHash: "owner-a", Service: "billing", TargetFn: "charge",
		IdempotencyKey: "invoice-7", Status: job.StatusPending, RemainingAttempts: 1,
	}
	jobID, created, err := s.InsertJobIdempotent(ctx, j)
	if err != nil || !created || jobID != "invoice-7" {
		t.Fatalf("first insert: id=%q created=%v err=%v", jobID, created, err)
	}

	jobID, created, err = s.InsertJobIdempotent(ctx, j)
	if err != nil || created || jobID != "invoice-7" {
		t.Fatalf("resubmission: id=%q created=%v err=%v", jobID, created, err)
	}

	other := *j
	other.OwnerHash = "owner-b"
	if _, _, err := s.InsertJobIdempotent(ctx, &other); !errors.Is(err, differential.ErrJobAlreadyExists) {
		t.Fatalf("cross-tenant collision: %v", err)
	}
}

func TestJobStore_ClaimExactlyOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const n = 10
	for i := range n {
		j := &job.Job{
			ID: fmt.Sprintf("job-%02d", i), OwnerHash: "owner-a", Service: "billing",
			TargetFn: "charge", Status: job.StatusPending, RemainingAttempts: 1,
		}
		if err := s.InsertJob(ctx, j); err != nil {
			t.Fatalf("InsertJob: %v", err)
		}
	}

	seen := make(map[string]bool)
	for {
		rows, err := s.ClaimJobs(ctx, job.ClaimOpts{
			OwnerHash: "owner-a", Service: "billing", Limit: 3, MachineID: "mach_1",
		})
		if err != nil {
			t.Fatalf("ClaimJobs: %v", err)
		}
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			if seen[r.ID] {
				t.Fatalf("job %s claimed twice", r.ID)
			}
			seen[r.ID] = true
			if r.Status != job.StatusRunning || r.ExecutingMachineID != "mach_1" || r.LastRetrievedAt == nil {
				t.Fatalf("claimed row: %+v", r)
			}
		}
	}
	if len(seen) != n {
		t.Fatalf("claimed %d jobs, want %d", len(seen), n)
	}
}

func TestJobStore_CompleteAndRequeue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := &job.Job{
		ID: "job-1", OwnerHash: "owner-a", Service: "billing", TargetFn: "charge",
		Status: job.StatusPending, RemainingAttempts: 2,
	}
	s.InsertJob(ctx, j)
	s.ClaimJobs(ctx, job.ClaimOpts{OwnerHash: "owner-a", Service: "billing", Limit: 1, MachineID: "mach_1"})

	retryable := true
	requeued, err := s.RequeueJob(ctx, job.ResultUpdate{
		JobID: "job-1", OwnerHash: "owner-a",
		Result: []byte(`{"name":"ECONNRESET","message":"reset"}`), ResultType: job.ResultRejection,
		PredictedRetryable: &retryable, PredictedRetryableReason: "transient",
	})
	if err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}
	if requeued.Status != job.StatusPending || requeued.RemainingAttempts != 1 {
		t.Fatalf("requeued: %+v", requeued)
	}
	if requeued.PredictedRetryable == nil || !*requeued.PredictedRetryable {
		t.Fatalf("predicted fields: %+v", requeued)
	}

	// Now pending: the guarded requeue finds nothing.
	if _, err := s.RequeueJob(ctx, job.ResultUpdate{JobID: "job-1", OwnerHash: "owner-a"}); !errors.Is(err, differential.ErrJobNotFound) {
		t.Fatalf("requeue of pending row: %v", err)
	}

	s.ClaimJobs(ctx, job.ClaimOpts{OwnerHash: "owner-a", Service: "billing", Limit: 1, MachineID: "mach_1"})
	execMs := 8.25
	completed, err := s.CompleteJob(ctx, job.ResultUpdate{
		JobID: "job-1", OwnerHash: "owner-a",
		Result: []byte(`"ok"`), ResultType: job.ResultResolution,
		FunctionExecutionTime: &execMs,
	})
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if completed.Status != job.StatusTerminal || completed.ResultedAt == nil {
		t.Fatalf("completed: %+v", completed)
	}
}

func TestJobStore_CachedResult(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := &job.Job{
		ID: "job-1", OwnerHash: "owner-a", Service: "rates", TargetFn: "lookup",
		CacheKey: "usd", Status: job.StatusPending, RemainingAttempts: 1,
	}
	s.InsertJob(ctx, j)
	s.ClaimJobs(ctx, job.ClaimOpts{OwnerHash: "owner-a", Service: "rates", Limit: 1, MachineID: "mach_1"})

	// No result yet: miss.
	hit, err := s.FindCachedResult(ctx, "owner-a", "rates", "lookup", "usd", time.Minute)
	if err != nil || hit != "" {
		t.Fatalf("premature hit: %q %v", hit, err)
	}

	s.CompleteJob(ctx, job.ResultUpdate{
		JobID: "job-1", OwnerHash: "owner-a",
		Result: []byte("1.07"), ResultType: job.ResultResolution,
	})

	hit, err = s.FindCachedResult(ctx, "owner-a", "rates", "lookup", "usd", time.Minute)
	if err != nil || hit != "job-1" {
		t.Fatalf("hit = %q err = %v", hit, err)
	}

	// Other tenants never see the entry.
	if hit, _ := s.FindCachedResult(ctx, "owner-b", "rates", "lookup", "usd", time.Minute); hit != "" {
		t.Fatalf("cross-tenant hit: %q", hit)
	}
}

func TestJobStore_SweepPasses(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	timeout := 0 // stalls on the next sweep
	j := &job.Job{
		ID: "job-1", OwnerHash: "owner-a", Service: "billing", TargetFn: "charge",
		Status: job.StatusPending, RemainingAttempts: 2, TimeoutIntervalSeconds: &timeout,
	}
	s.InsertJob(ctx, j)
	s.ClaimJobs(ctx, job.ClaimOpts{OwnerHash: "owner-a", Service: "billing", Limit: 1, MachineID: "mach_1"})

	time.Sleep(50 * time.Millisecond)

	stalled, err := s.FailStalledJobs(ctx)
	if err != nil || len(stalled) != 1 || stalled[0].Status != job.StatusStalled {
		t.Fatalf("stalled = %+v err = %v", stalled, err)
	}

	recovered, err := s.RecoverRetryableJobs(ctx)
	if err != nil || len(recovered) != 1 {
		t.Fatalf("recovered = %+v err = %v", recovered, err)
	}
	if recovered[0].Status != job.StatusPending || recovered[0].RemainingAttempts != 1 {
		t.Fatalf("recovered row: %+v", recovered[0])
	}
}

func TestMachineStore_Lifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	m := &machine.Machine{
		ID: "mach_1", OwnerHash: "owner-a", IP: "10.0.0.1", LastSeen: time.Now().UTC(),
	}
	if err := s.UpsertMachine(ctx, m); err != nil {
		t.Fatalf("UpsertMachine: %v", err)
	}

	m.IP = "10.0.0.2"
	m.LastSeen = time.Now().UTC()
	if err := s.UpsertMachine(ctx, m); err != nil {
		t.Fatalf("UpsertMachine (refresh): %v", err)
	}

	got, err := s.GetMachine(ctx, "mach_1", "owner-a")
	if err != nil || got.IP != "10.0.0.2" {
		t.Fatalf("GetMachine: %+v %v", got, err)
	}

	ms, err := s.ListMachines(ctx, "owner-a")
	if err != nil || len(ms) != 1 {
		t.Fatalf("ListMachines: %v %v", ms, err)
	}

	// A machine last seen an hour ago gets reaped.
	stale := &machine.Machine{
		ID: "mach_2", OwnerHash: "owner-a", LastSeen: time.Now().Add(-time.Hour).UTC(),
	}
	s.UpsertMachine(ctx, stale)
	reaped, err := s.ReapDeadMachines(ctx, 90*time.Second)
	if err != nil || len(reaped) != 1 || reaped[0].ID != "mach_2" {
		t.Fatalf("ReapDeadMachines: %+v %v", reaped, err)
	}
}

func TestEventStore_AppendAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		evt := &event.Event{
			ID:        id.NewEventID(),
			Name:      event.JobCreated,
			JobID:     fmt.Sprintf("job-%d", i),
			OwnerHash: "owner-a",
			Service:   "billing",
			CreatedAt: time.Now().UTC(),
		}
		if err := s.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	events, err := s.ListEvents(ctx, "owner-a", event.ListOpts{})
	if err != nil || len(events) != 3 {
		t.Fatalf("ListEvents: %v %v", events, err)
	}

	filtered, err := s.ListEvents(ctx, "owner-a", event.ListOpts{JobID: "job-1"})
	if err != nil || len(filtered) != 1 || filtered[0].JobID != "job-1" {
		t.Fatalf("filtered: %v %v", filtered, err)
	}
}

func TestDefinitionStore_PutAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.GetDefinition(ctx, "owner-a"); !errors.Is(err, differential.ErrDefinitionNotFound) {
		t.Fatalf("missing definition: %v", err)
	}

	timeout := 30
	doc := &definition.Document{
		OwnerHash:         "owner-a",
		PredictiveRetries: true,
		Services: map[string]definition.Service{
			"billing": {Functions: map[string]definition.FunctionPolicy{
				"charge": {MaxAttempts: 3, TimeoutIntervalSeconds: &timeout},
			}},
		},
	}
	if err := s.PutDefinition(ctx, doc); err != nil {
		t.Fatalf("PutDefinition: %v", err)
	}

	got, err := s.GetDefinition(ctx, "owner-a")
	if err != nil {
		t.Fatalf("GetDefinition: %v", err)
	}
	policy := got.Policy("billing", "charge")
	if policy.MaxAttempts != 3 || policy.TimeoutIntervalSeconds == nil {
		t.Fatalf("policy = %+v", policy)
	}
}

func TestLocker_TryAcquire(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	release, ok, err := s.TryAcquire(ctx, "differential:sweeper")
	if err != nil || !ok {
		t.Fatalf("TryAcquire: ok=%v err=%v", ok, err)
	}

	if _, ok, err := s.TryAcquire(ctx, "differential:sweeper"); err != nil || ok {
		t.Fatalf("second TryAcquire while held: ok=%v err=%v", ok, err)
	}

	release()
	release2, ok, err := s.TryAcquire(ctx, "differential:sweeper")
	if err != nil || !ok {
		t.Fatalf("TryAcquire after release: ok=%v err=%v", ok, err)
	}
	release2()
}
