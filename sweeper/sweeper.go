// Package sweeper runs the self-healing loop: jobs stuck in running
// past their timeout are stalled, and stalled jobs with remaining
// attempts are sent back to pending. A distributed try-lock keeps one
// sweep running at a time across control-plane replicas; the loop is
// how crashed and partitioned machines lose their claims.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/differentialhq/differential-sub000/hook"
	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/machine"
	"github.com/differentialhq/differential-sub000/mutex"
)

// cronParser supports standard 5-field cron and descriptors like "@every 5s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Sweeper periodically repairs the job table.
type Sweeper struct {
	jobs     job.Store
	machines machine.Store
	locker   mutex.Locker
	hooks    *hook.Registry
	logger   *slog.Logger

	lockName       string
	schedule       cronlib.Schedule
	staleThreshold time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a sweeper firing on the given cron schedule (descriptors
// like "@every 5s" are accepted). machines may be nil to skip dead
// machine reaping.
func New(jobs job.Store, machines machine.Store, locker mutex.Locker, hooks *hook.Registry, logger *slog.Logger, scheduleExpr, lockName string, staleThreshold time.Duration) (*Sweeper, error) {
	schedule, err := cronParser.Parse(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("differential/sweeper: parse schedule %q: %w", scheduleExpr, err)
	}
	return &Sweeper{
		jobs:           jobs,
		machines:       machines,
		locker:         locker,
		hooks:          hooks,
		logger:         logger,
		lockName:       lockName,
		schedule:       schedule,
		staleThreshold: staleThreshold,
		stopCh:         make(chan struct{}),
	}, nil
}

// Start launches the sweep loop goroutine.
func (s *Sweeper) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("sweeper started", slog.String("lock", s.lockName))
	return nil
}

// Stop signals the loop to stop and waits for it to finish.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if err := s.RunOnce(context.Background()); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce executes a single sweep. When another replica holds the lock
// it returns immediately; a skipped sweep is made up by the next tick.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	release, ok, err := s.locker.TryAcquire(ctx, s.lockName)
	if err != nil {
		return fmt.Errorf("differential/sweeper: acquire lock: %w", err)
	}
	if !ok {
		return nil
	}
	defer release()

	stalled, err := s.jobs.FailStalledJobs(ctx)
	if err != nil {
		return fmt.Errorf("differential/sweeper: fail stalled jobs: %w", err)
	}
	for _, j := range stalled {
		s.hooks.EmitJobStalled(ctx, j)
	}

	recovered, err := s.jobs.RecoverRetryableJobs(ctx)
	if err != nil {
		return fmt.Errorf("differential/sweeper: recover retryable jobs: %w", err)
	}
	for _, j := range recovered {
		s.hooks.EmitJobRecovered(ctx, j)
	}

	var reaped []*machine.Machine
	if s.machines != nil {
		reaped, err = s.machines.ReapDeadMachines(ctx, s.staleThreshold)
		if err != nil {
			return fmt.Errorf("differential/sweeper: reap dead machines: %w", err)
		}
	}

	if len(stalled) > 0 || len(recovered) > 0 || len(reaped) > 0 {
		s.logger.Info("sweep repaired jobs",
			slog.Int("stalled", len(stalled)),
			slog.Int("recovered", len(recovered)),
			slog.Int("machines_reaped", len(reaped)),
		)
	}
	return nil
}
