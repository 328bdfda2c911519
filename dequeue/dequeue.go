// Package dequeue hands pending jobs to worker machines. Claims are
// long-polled: a machine's request parks on the control plane and
// repeatedly attempts an atomic claim until rows arrive or the poll
// budget runs out, so workers get work with sub-second latency without
// a persistent connection.
package dequeue

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/hook"
	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/machine"
	"github.com/differentialhq/differential-sub000/tenant"
)

// Request is one machine's claim poll.
type Request struct {
	OwnerHash string
	Service   string
	MachineID string
	IP        string

	// DeploymentID identifies the code version the machine runs.
	DeploymentID string

	// Limit is the maximum number of jobs to hand out. Zero defaults to 1.
	Limit int

	// TTL is the long-poll budget. Zero or anything above the engine cap
	// uses the cap.
	TTL time.Duration
}

// Service implements the claim long-poll.
type Service struct {
	jobs     job.Store
	machines machine.Store
	hooks    *hook.Registry
	limiter  *tenant.Limiter
	activity *tenant.Activity
	cfg      differential.Config
	logger   *slog.Logger
}

// NewService creates a dequeue service.
func NewService(jobs job.Store, machines machine.Store, hooks *hook.Registry, limiter *tenant.Limiter, activity *tenant.Activity, cfg differential.Config, logger *slog.Logger) *Service {
	return &Service{jobs: jobs, machines: machines, hooks: hooks, limiter: limiter, activity: activity, cfg: cfg, logger: logger}
}

// Claim parks until jobs are claimed for (owner, service) or the poll
// budget expires, whichever comes first. An exhausted budget returns an
// empty slice with no error; the machine simply polls again. The
// machine's heartbeat is recorded concurrently with the first claim
// attempt so a fully busy queue still keeps the registry fresh.
func (s *Service) Claim(ctx context.Context, req Request) ([]*job.Job, error) {
	if req.OwnerHash == "" {
		return nil, differential.ErrMissingOwner
	}
	if req.Service == "" {
		return nil, differential.ErrMissingService
	}
	if req.Limit <= 0 {
		req.Limit = 1
	}

	ttl := req.TTL
	if ttl <= 0 || ttl > s.cfg.MaxClaimTTL {
		ttl = s.cfg.MaxClaimTTL
	}
	deadline := time.Now().Add(ttl)

	var claimed []*job.Job
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Heartbeat failures must not fail the claim.
		if err := s.heartbeat(gctx, req); err != nil {
			s.logger.Warn("machine heartbeat failed",
				slog.String("machine_id", req.MachineID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		claimed, err = s.poll(gctx, req, deadline)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, j := range claimed {
		s.hooks.EmitJobReceived(ctx, j)
	}
	return claimed, nil
}

func (s *Service) poll(ctx context.Context, req Request, deadline time.Time) ([]*job.Job, error) {
	opts := job.ClaimOpts{
		OwnerHash: req.OwnerHash,
		Service:   req.Service,
		Limit:     req.Limit,
		MachineID: req.MachineID,
	}

	for {
		if s.limiter.AllowClaim(req.OwnerHash) {
			rows, err := s.jobs.ClaimJobs(ctx, opts)
			if err != nil {
				return nil, err
			}
			if len(rows) > 0 {
				return rows, nil
			}
		}

		interval := s.cfg.ColdPollInterval
		if s.activity.IsHot(req.OwnerHash) {
			interval = s.cfg.HotPollInterval
		}
		if time.Now().Add(interval).After(deadline) {
			return nil, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) heartbeat(ctx context.Context, req Request) error {
	if req.MachineID == "" {
		return nil
	}
	m := &machine.Machine{
		ID:           req.MachineID,
		OwnerHash:    req.OwnerHash,
		IP:           req.IP,
		DeploymentID: req.DeploymentID,
		LastSeen:     time.Now().UTC(),
	}
	if err := s.machines.UpsertMachine(ctx, m); err != nil {
		return err
	}
	s.hooks.EmitMachineSeen(ctx, m)
	return nil
}
