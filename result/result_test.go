package result_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/definition"
	"github.com/differentialhq/differential-sub000/hook"
	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/predictor"
	"github.com/differentialhq/differential-sub000/result"
	"github.com/differentialhq/differential-sub000/store/memory"
)

// fixedClassifier always answers with the configured verdict.
type fixedClassifier struct {
	verdict predictor.Verdict
	calls   int
}

func (c *fixedClassifier) Classify(_ context.Context, _, _ string) (predictor.Verdict, error) {
	c.calls++
	return c.verdict, nil
}

// recorderExt records resulted jobs and verdicts.
type recorderExt struct {
	resulted []string
	verdicts []bool
}

func (e *recorderExt) Name() string { return "recorder" }

func (e *recorderExt) OnJobResulted(_ context.Context, j *job.Job) error {
	e.resulted = append(e.resulted, j.ID)
	return nil
}

func (e *recorderExt) OnPredictorVerdict(_ context.Context, _ *job.Job, retryable bool, _ string) error {
	e.verdicts = append(e.verdicts, retryable)
	return nil
}

type fixture struct {
	store      *memory.Store
	svc        *result.Service
	classifier *fixedClassifier
	recorder   *recorderExt
}

func newFixture(t *testing.T, verdict predictor.Verdict, predictiveRetries bool) *fixture {
	t.Helper()
	store := memory.New()
	store.PutDefinition(context.Background(), &definition.Document{
		OwnerHash:         "owner-a",
		PredictiveRetries: predictiveRetries,
	})

	classifier := &fixedClassifier{verdict: verdict}
	recorder := &recorderExt{}
	hooks := hook.NewRegistry(slog.Default())
	hooks.Register(recorder)

	svc := result.NewService(
		store,
		definition.NewCache(store),
		predictor.NewService(classifier, nil, slog.Default()),
		hooks,
		slog.Default(),
	)
	return &fixture{store: store, svc: svc, classifier: classifier, recorder: recorder}
}

// runningJob inserts and claims a job so a result can land on it.
func runningJob(t *testing.T, store *memory.Store, id string, attempts int) {
	t.Helper()
	ctx := context.Background()
	if err := store.InsertJob(ctx, &job.Job{
		ID: id, OwnerHash: "owner-a", Service: "billing", TargetFn: "charge",
		Status: job.StatusPending, RemainingAttempts: attempts,
	}); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if _, err := store.ClaimJobs(ctx, job.ClaimOpts{
		OwnerHash: "owner-a", Service: "billing", Limit: 1, MachineID: "mach_1",
	}); err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}
}

func TestSubmitResolution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, predictor.Verdict{}, true)
	runningJob(t, f.store, "job_1", 1)

	execMs := 12.5
	updated, err := f.svc.Submit(ctx, result.Request{
		JobID: "job_1", OwnerHash: "owner-a",
		Result:                []byte(`"ok"`),
		ResultType:            job.ResultResolution,
		FunctionExecutionTime: &execMs,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if updated.Status != job.StatusTerminal || updated.ResultType != job.ResultResolution {
		t.Fatalf("updated = %+v", updated)
	}
	if f.classifier.calls != 0 {
		t.Fatal("resolutions must not be classified")
	}
	if len(f.recorder.resulted) != 1 {
		t.Fatalf("JobResulted fired %d times, want 1", len(f.recorder.resulted))
	}
}

func TestSubmitRejectionWithoutPredictiveRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, predictor.Verdict{Retryable: true}, false)
	runningJob(t, f.store, "job_1", 3)

	updated, err := f.svc.Submit(ctx, result.Request{
		JobID: "job_1", OwnerHash: "owner-a",
		Result:     []byte(`{"name":"Error","message":"boom"}`),
		ResultType: job.ResultRejection,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// The owner opted out: the rejection stands, attempts untouched.
	if updated.Status != job.StatusTerminal || updated.RemainingAttempts != 3 {
		t.Fatalf("updated = %+v", updated)
	}
	if f.classifier.calls != 0 {
		t.Fatal("classifier ran for an opted-out owner")
	}
	if updated.PredictedRetryable != nil {
		t.Fatal("predicted fields set without classification")
	}
}

func TestSubmitRetryableRejectionRequeues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, predictor.Verdict{Retryable: true, Reason: "transient"}, true)
	runningJob(t, f.store, "job_1", 2)

	updated, err := f.svc.Submit(ctx, result.Request{
		JobID: "job_1", OwnerHash: "owner-a",
		Result:     []byte(`{"name":"ECONNRESET","message":"socket hang up"}`),
		ResultType: job.ResultRejection,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if updated.Status != job.StatusPending {
		t.Fatalf("status = %q, want pending (requeued)", updated.Status)
	}
	if updated.RemainingAttempts != 1 {
		t.Fatalf("remaining attempts = %d, want 1", updated.RemainingAttempts)
	}
	if updated.PredictedRetryable == nil || !*updated.PredictedRetryable {
		t.Fatalf("predicted fields = %+v", updated)
	}
	if updated.PredictedRetryableReason != "transient" {
		t.Fatalf("reason = %q", updated.PredictedRetryableReason)
	}
	if len(f.recorder.verdicts) != 1 || !f.recorder.verdicts[0] {
		t.Fatalf("verdict hook = %v", f.recorder.verdicts)
	}
	if len(f.recorder.resulted) != 1 {
		t.Fatalf("JobResulted fired %d times, want 1", len(f.recorder.resulted))
	}
}

func TestSubmitRetryableRejectionWithoutAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, predictor.Verdict{Retryable: true, Reason: "transient"}, true)
	runningJob(t, f.store, "job_1", 0)

	updated, err := f.svc.Submit(ctx, result.Request{
		JobID: "job_1", OwnerHash: "owner-a",
		Result:     []byte(`{"name":"ECONNRESET","message":"socket hang up"}`),
		ResultType: job.ResultRejection,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// No attempts left: the rejection goes terminal even though it was
	// judged retryable.
	if updated.Status != job.StatusTerminal {
		t.Fatalf("status = %q, want terminal", updated.Status)
	}
	if updated.PredictedRetryable == nil || !*updated.PredictedRetryable {
		t.Fatal("verdict should still be recorded on the row")
	}
}

func TestSubmitNonRetryableRejection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, predictor.Verdict{Retryable: false, Reason: "deterministic"}, true)
	runningJob(t, f.store, "job_1", 2)

	updated, err := f.svc.Submit(ctx, result.Request{
		JobID: "job_1", OwnerHash: "owner-a",
		Result:     []byte(`{"name":"TypeError","message":"x is not a function"}`),
		ResultType: job.ResultRejection,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if updated.Status != job.StatusTerminal || updated.RemainingAttempts != 2 {
		t.Fatalf("updated = %+v", updated)
	}
}

func TestSubmitUnknownJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, predictor.Verdict{}, true)

	_, err := f.svc.Submit(ctx, result.Request{JobID: "job_missing", OwnerHash: "owner-a"})
	if !errors.Is(err, differential.ErrJobNotFound) {
		t.Fatalf("got %v, want ErrJobNotFound", err)
	}

	// Tenant scoping: the row exists but under another owner.
	runningJob(t, f.store, "job_1", 1)
	_, err = f.svc.Submit(ctx, result.Request{JobID: "job_1", OwnerHash: "owner-b"})
	if !errors.Is(err, differential.ErrJobNotFound) {
		t.Fatalf("cross-tenant submit: got %v, want ErrJobNotFound", err)
	}
}
