package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/forge"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/admission"
	"github.com/differentialhq/differential-sub000/dequeue"
	"github.com/differentialhq/differential-sub000/event"
	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/result"
)

// owner resolves the calling tenant from the Authorization header. On
// failure it writes the 401 itself and returns an empty owner; the
// handler must bail out without writing anything else.
func (a *API) owner(ctx forge.Context) (string, error) {
	token := bearerToken(ctx.Header("Authorization"))
	owner, err := a.auth.ResolveOwner(ctx.Context(), token)
	if err != nil {
		return "", ctx.Status(http.StatusUnauthorized).JSON(errorBody{Error: "unauthorized"})
	}
	return owner, nil
}

func (a *API) createJob(ctx forge.Context, req *CreateJobRequest) (*CreateJobResponse, error) {
	owner, err := a.owner(ctx)
	if owner == "" {
		return nil, err
	}

	jobID, created, err := a.eng.CreateJob(ctx.Context(), admission.Request{
		OwnerHash:      owner,
		Service:        req.Service,
		TargetFn:       req.TargetFn,
		Args:           req.Args,
		IdempotencyKey: req.IdempotencyKey,
		CacheKey:       req.CacheKey,
	})
	if err != nil {
		return nil, mapEngineError(err)
	}

	resp := &CreateJobResponse{ID: jobID, Created: created}
	return resp, ctx.JSON(http.StatusCreated, resp)
}

func (a *API) claimJobs(ctx forge.Context, req *ClaimJobsRequest) ([]ClaimedJob, error) {
	owner, err := a.owner(ctx)
	if owner == "" {
		return nil, err
	}

	claimed, err := a.eng.ClaimJobs(ctx.Context(), dequeue.Request{
		OwnerHash:    owner,
		Service:      req.Service,
		MachineID:    ctx.Header("x-machine-id"),
		DeploymentID: ctx.Header("x-deployment-id"),
		IP:           ctx.Header("x-forwarded-for"),
		Limit:        req.Limit,
		TTL:          time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, mapEngineError(err)
	}

	resp := make([]ClaimedJob, 0, len(claimed))
	for _, j := range claimed {
		resp = append(resp, ClaimedJob{ID: j.ID, TargetFn: j.TargetFn, TargetArgs: j.TargetArgs})
	}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) submitResult(ctx forge.Context, req *SubmitResultRequest) (*struct{}, error) {
	owner, err := a.owner(ctx)
	if owner == "" {
		return nil, err
	}

	rt := job.ResultType(req.ResultType)
	if rt != job.ResultResolution && rt != job.ResultRejection {
		return nil, forge.BadRequest(fmt.Sprintf("invalid result type: %q", req.ResultType))
	}

	if _, err := a.eng.SubmitResult(ctx.Context(), result.Request{
		JobID:                 ctx.Param("jobId"),
		OwnerHash:             owner,
		Result:                req.Result,
		ResultType:            rt,
		FunctionExecutionTime: req.FunctionExecutionTime,
	}); err != nil {
		return nil, mapEngineError(err)
	}

	return nil, ctx.NoContent(http.StatusNoContent)
}

func (a *API) jobStatus(ctx forge.Context, req *JobStatusRequest) (*JobStatusResponse, error) {
	owner, err := a.owner(ctx)
	if owner == "" {
		return nil, err
	}

	wait := time.Duration(req.WaitSeconds) * time.Second
	if max := a.eng.Config().MaxClaimTTL; wait > max {
		wait = max
	}

	j, err := a.eng.GetJobStatus(ctx.Context(), ctx.Param("jobId"), owner, wait)
	if err != nil {
		return nil, mapEngineError(err)
	}

	resp := &JobStatusResponse{
		ID:         j.ID,
		Status:     string(j.Status),
		Result:     j.Result,
		ResultType: string(j.ResultType),
	}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) jobCounts(ctx forge.Context, req *JobCountsRequest) (*JobCountsResponse, error) {
	owner, err := a.owner(ctx)
	if owner == "" {
		return nil, err
	}

	counts, err := a.eng.CountJobs(ctx.Context(), owner, req.Service)
	if err != nil {
		return nil, mapEngineError(err)
	}

	resp := &JobCountsResponse{
		Pending: counts[job.StatusPending],
		Running: counts[job.StatusRunning],
		Success: counts[job.StatusTerminal],
		Failure: counts[job.StatusStalled],
	}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) listEvents(ctx forge.Context, req *ListEventsRequest) ([]*event.Event, error) {
	owner, err := a.owner(ctx)
	if owner == "" {
		return nil, err
	}

	events, err := a.eng.ListEvents(ctx.Context(), owner, event.ListOpts{
		JobID: req.JobID,
		Limit: req.Limit,
	})
	if err != nil {
		return nil, mapEngineError(err)
	}

	return events, ctx.JSON(http.StatusOK, events)
}

// mapEngineError converts sentinel errors to forge HTTP errors.
func mapEngineError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, differential.ErrJobNotFound),
		errors.Is(err, differential.ErrMachineNotFound),
		errors.Is(err, differential.ErrDefinitionNotFound):
		return forge.NotFound(err.Error())
	case errors.Is(err, differential.ErrMissingService),
		errors.Is(err, differential.ErrMissingTargetFn),
		errors.Is(err, differential.ErrMissingOwner),
		errors.Is(err, differential.ErrJobAlreadyExists):
		return forge.BadRequest(err.Error())
	}
	return err
}
