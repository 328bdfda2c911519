package api

// CreateJobRequest is the admission payload. Args is an opaque
// serialized payload; the control plane never interprets it.
type CreateJobRequest struct {
	Service        string `json:"service"`
	TargetFn       string `json:"targetFn"`
	Args           []byte `json:"args,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	CacheKey       string `json:"cacheKey,omitempty"`
}

// CreateJobResponse reports the job the admission converged on. Created
// is false when an idempotent admission returned an existing row or a
// cached admission short-circuited.
type CreateJobResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// ClaimJobsRequest is bound from the claim query string. Machine
// identity travels in the x-machine-id and x-deployment-id headers.
type ClaimJobsRequest struct {
	Service    string `json:"service" query:"service"`
	Limit      int    `json:"limit" query:"limit"`
	TTLSeconds int    `json:"ttlSeconds" query:"ttlSeconds"`
}

// ClaimedJob is the view of a job handed to a machine. Status and
// result fields are omitted; a freshly claimed job has neither.
type ClaimedJob struct {
	ID         string `json:"id"`
	TargetFn   string `json:"targetFn"`
	TargetArgs []byte `json:"targetArgs,omitempty"`
}

// SubmitResultRequest carries one execution result.
type SubmitResultRequest struct {
	Result                []byte   `json:"result,omitempty"`
	ResultType            string   `json:"resultType"`
	FunctionExecutionTime *float64 `json:"functionExecutionTime,omitempty"`
}

// JobStatusRequest is bound from the status query string. A non-zero
// wait long-polls until the job finishes or the budget expires.
type JobStatusRequest struct {
	WaitSeconds int `json:"waitSeconds" query:"waitSeconds"`
}

// JobStatusResponse is the caller-facing view of a job row.
type JobStatusResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Result     []byte `json:"result,omitempty"`
	ResultType string `json:"resultType,omitempty"`
}

// JobCountsResponse groups job counts by wire status value.
type JobCountsResponse struct {
	Pending int64 `json:"pending"`
	Running int64 `json:"running"`
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// JobCountsRequest is bound from the counts query string.
type JobCountsRequest struct {
	Service string `json:"service" query:"service"`
}

// ListEventsRequest is bound from the activity log query string.
type ListEventsRequest struct {
	JobID string `json:"jobId" query:"jobId"`
	Limit int    `json:"limit" query:"limit"`
}

// errorBody is the JSON error envelope for statuses forge helpers do
// not cover.
type errorBody struct {
	Error string `json:"error"`
}
