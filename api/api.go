// Package api provides the Forge HTTP surface of the control plane.
// Every route resolves the calling tenant from the Authorization header
// before touching the engine; the wire status values ("success",
// "failure") pass through unchanged from the job package constants.
package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/differentialhq/differential-sub000/definition"
	"github.com/differentialhq/differential-sub000/engine"
	"github.com/differentialhq/differential-sub000/event"
	"github.com/differentialhq/differential-sub000/machine"
)

// API wires all Forge-style HTTP handlers together for the control plane.
type API struct {
	eng    *engine.Engine
	auth   AccessResolver
	router forge.Router
}

// New creates an API from an Engine and an access resolver.
func New(eng *engine.Engine, auth AccessResolver, router forge.Router) *API {
	return &API{eng: eng, auth: auth, router: router}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	a.RegisterRoutes(a.router)
	return a.router.Handler()
}

// RegisterRoutes registers all control-plane routes into the given
// Forge router with full OpenAPI metadata.
func (a *API) RegisterRoutes(router forge.Router) {
	a.registerJobRoutes(router)
	a.registerMachineRoutes(router)
	a.registerDefinitionRoutes(router)
}

// registerJobRoutes registers the job lifecycle routes.
func (a *API) registerJobRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("jobs"))

	_ = g.POST("/jobs", a.createJob,
		forge.WithSummary("Create job"),
		forge.WithDescription("Admits a job for execution. Idempotency and cache keys make the admission converge on an existing job."),
		forge.WithOperationID("createJob"),
		forge.WithRequestSchema(CreateJobRequest{}),
		forge.WithCreatedResponse(CreateJobResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs", a.claimJobs,
		forge.WithSummary("Claim jobs"),
		forge.WithDescription("Long-polls for pending jobs on a service and atomically claims them for the calling machine."),
		forge.WithOperationID("claimJobs"),
		forge.WithRequestSchema(ClaimJobsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Claimed jobs", []ClaimedJob{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/counts", a.jobCounts,
		forge.WithSummary("Job counts"),
		forge.WithDescription("Returns job counts grouped by status."),
		forge.WithOperationID("jobCounts"),
		forge.WithRequestSchema(JobCountsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Job counts", JobCountsResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:jobId", a.jobStatus,
		forge.WithSummary("Job status"),
		forge.WithDescription("Returns the status and result of a job, optionally long-polling until it finishes."),
		forge.WithOperationID("jobStatus"),
		forge.WithRequestSchema(JobStatusRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Job status", JobStatusResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/jobs/:jobId/result", a.submitResult,
		forge.WithSummary("Submit result"),
		forge.WithDescription("Persists the execution result a machine reports for a claimed job."),
		forge.WithOperationID("submitResult"),
		forge.WithRequestSchema(SubmitResultRequest{}),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/events", a.listEvents,
		forge.WithSummary("List activity log events"),
		forge.WithDescription("Returns the tenant's job lifecycle events, newest first."),
		forge.WithOperationID("listEvents"),
		forge.WithRequestSchema(ListEventsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Events", []*event.Event{}),
		forge.WithErrorResponses(),
	)
}

// registerMachineRoutes registers the machine registry routes.
func (a *API) registerMachineRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("machines"))

	_ = g.GET("/machines", a.listMachines,
		forge.WithSummary("List machines"),
		forge.WithDescription("Returns the tenant's machines, most recently seen first."),
		forge.WithOperationID("listMachines"),
		forge.WithResponseSchema(http.StatusOK, "Machines", []*machine.Machine{}),
		forge.WithErrorResponses(),
	)
}

// registerDefinitionRoutes registers the service definition routes.
func (a *API) registerDefinitionRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("definitions"))

	_ = g.GET("/definitions", a.getDefinition,
		forge.WithSummary("Get service definitions"),
		forge.WithDescription("Returns the tenant's service definition document."),
		forge.WithOperationID("getDefinitions"),
		forge.WithResponseSchema(http.StatusOK, "Definition document", &definition.Document{}),
		forge.WithErrorResponses(),
	)

	_ = g.PUT("/definitions", a.putDefinition,
		forge.WithSummary("Replace service definitions"),
		forge.WithDescription("Replaces the tenant's service definition document. Replicas converge within the definition cache TTL."),
		forge.WithOperationID("putDefinitions"),
		forge.WithRequestSchema(definition.Document{}),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	)
}
