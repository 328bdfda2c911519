package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/differentialhq/differential-sub000/backoff"
	"github.com/differentialhq/differential-sub000/hook"
	"github.com/differentialhq/differential-sub000/id"
	"github.com/differentialhq/differential-sub000/job"
)

const sinkAttempts = 3

// Sink is a hook extension that records lifecycle transitions in the
// activity log. Appends are retried on a linear schedule and dropped
// after the final attempt; the activity log is observability data and
// must never block or fail the job lifecycle.
type Sink struct {
	store   Store
	logger  *slog.Logger
	retry   backoff.Strategy
	sleep   func(time.Duration)
	newTime func() time.Time
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithRetry overrides the append retry schedule.
func WithRetry(s backoff.Strategy) SinkOption {
	return func(sk *Sink) { sk.retry = s }
}

// WithSleep overrides the retry sleep function, for tests.
func WithSleep(sleep func(time.Duration)) SinkOption {
	return func(sk *Sink) { sk.sleep = sleep }
}

// NewSink creates an activity log sink backed by the given store.
func NewSink(store Store, logger *slog.Logger, opts ...SinkOption) *Sink {
	s := &Sink{
		store:   store,
		logger:  logger,
		retry:   backoff.NewLinear(100*time.Millisecond, time.Second),
		sleep:   time.Sleep,
		newTime: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ hook.Extension = (*Sink)(nil)

// Name implements hook.Extension.
func (s *Sink) Name() string { return "event-sink" }

func (s *Sink) OnJobCreated(ctx context.Context, j *job.Job) error {
	return s.append(ctx, s.fromJob(JobCreated, j))
}

func (s *Sink) OnJobReceived(ctx context.Context, j *job.Job) error {
	return s.append(ctx, s.fromJob(JobReceived, j))
}

func (s *Sink) OnJobResulted(ctx context.Context, j *job.Job) error {
	evt := s.fromJob(JobResulted, j)
	meta := map[string]any{"status": j.Status, "result_type": j.ResultType}
	if j.FunctionExecutionTime != nil {
		meta["function_execution_time"] = *j.FunctionExecutionTime
	}
	evt.Meta, _ = json.Marshal(meta)
	return s.append(ctx, evt)
}

func (s *Sink) OnJobStalled(ctx context.Context, j *job.Job) error {
	return s.append(ctx, s.fromJob(JobStalled, j))
}

func (s *Sink) OnJobRecovered(ctx context.Context, j *job.Job) error {
	return s.append(ctx, s.fromJob(JobRecovered, j))
}

func (s *Sink) OnPredictorVerdict(ctx context.Context, j *job.Job, retryable bool, reason string) error {
	evt := s.fromJob(PredictorRetryableResult, j)
	evt.Meta, _ = json.Marshal(map[string]any{"retryable": retryable, "reason": reason})
	return s.append(ctx, evt)
}

func (s *Sink) fromJob(name string, j *job.Job) *Event {
	return &Event{
		ID:        id.NewEventID(),
		Name:      name,
		JobID:     j.ID,
		OwnerHash: j.OwnerHash,
		MachineID: j.ExecutingMachineID,
		Service:   j.Service,
		CreatedAt: s.newTime().UTC(),
	}
}

// append writes the event, retrying transient store failures. The row
// is dropped after the final attempt.
func (s *Sink) append(ctx context.Context, evt *Event) error {
	var err error
	for attempt := 1; attempt <= sinkAttempts; attempt++ {
		if err = s.store.AppendEvent(ctx, evt); err == nil {
			return nil
		}
		if attempt < sinkAttempts {
			s.sleep(s.retry.Delay(attempt))
		}
	}
	s.logger.Warn("dropping activity log event",
		slog.String("event", evt.Name),
		slog.String("job_id", evt.JobID),
		slog.String("error", err.Error()),
	)
	return nil
}
