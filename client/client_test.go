package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/api"
	"github.com/differentialhq/differential-sub000/backoff"
)

func fastRetry() Option {
	return WithRetry(3, &backoff.Constant{Interval: time.Millisecond})
}

func TestCreateJobSendsAuthAndPayload(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotReq api.CreateJobRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/jobs" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.CreateJobResponse{ID: "job_123", Created: true})
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("sk_test"), fastRetry())
	jobID, created, err := c.CreateJob(context.Background(), CreateJobInput{
		Service:  "billing",
		TargetFn: "chargeInvoice",
		Args:     []byte(`{"invoice":"inv_1"}`),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if jobID != "job_123" || !created {
		t.Errorf("got id=%q created=%v", jobID, created)
	}
	if gotAuth != "Bearer sk_test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.Service != "billing" || gotReq.TargetFn != "chargeInvoice" {
		t.Errorf("request payload = %+v", gotReq)
	}
}

func TestClaimJobsSendsMachineIdentity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-machine-id") != "mach-7" {
			t.Errorf("x-machine-id = %q", r.Header.Get("x-machine-id"))
		}
		q := r.URL.Query()
		if q.Get("service") != "billing" || q.Get("limit") != "5" || q.Get("ttlSeconds") != "20" {
			t.Errorf("query = %v", q)
		}
		_ = json.NewEncoder(w).Encode([]api.ClaimedJob{
			{ID: "job_1", TargetFn: "chargeInvoice"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("sk_test"), WithMachineID("mach-7"), fastRetry())
	claimed, err := c.ClaimJobs(context.Background(), ClaimInput{
		Service: "billing",
		Limit:   5,
		TTL:     20 * time.Second,
	})
	if err != nil {
		t.Fatalf("ClaimJobs: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "job_1" {
		t.Errorf("claimed = %v", claimed)
	}
}

func TestSubmitResultNoContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/job_1/result" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("sk_test"), fastRetry())
	if err := c.SubmitResult(context.Background(), "job_1", ResultInput{
		Result:     []byte(`"ok"`),
		ResultType: "resolution",
	}); err != nil {
		t.Fatalf("SubmitResult: %v", err)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(api.JobStatusResponse{ID: "job_1", Status: "success"})
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("sk_test"), fastRetry())
	status, err := c.JobStatus(context.Background(), "job_1", 0)
	if err != nil {
		t.Fatalf("JobStatus after retries: %v", err)
	}
	if status.Status != "success" {
		t.Errorf("status = %q", status.Status)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"missing service"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("sk_test"), fastRetry())
	if _, _, err := c.CreateJob(context.Background(), CreateJobInput{}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", calls.Load())
	}
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("sk_test"), fastRetry())
	_, err := c.JobStatus(context.Background(), "job_missing", 0)
	if !errors.Is(err, differential.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
