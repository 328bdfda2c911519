package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/job"
)

const jobColumns = `
	id, owner_hash, service, target_fn, target_args,
	idempotency_key, cache_key, status, result, result_type,
	remaining_attempts, timeout_interval_seconds,
	executing_machine_id, last_retrieved_at,
	function_execution_time, predicted_retryable, predicted_retryable_reason,
	created_at, updated_at, resulted_at`

// InsertJob persists a new pending job.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO differential_jobs (
			id, owner_hash, service, target_fn, target_args,
			idempotency_key, cache_key, status, remaining_attempts,
			timeout_interval_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		j.ID, j.OwnerHash, j.Service, j.TargetFn, j.TargetArgs,
		j.IdempotencyKey, j.CacheKey, string(j.Status), j.RemainingAttempts,
		j.TimeoutIntervalSeconds,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return differential.ErrJobAlreadyExists
		}
		return fmt.Errorf("differential/postgres: insert job: %w", err)
	}
	return nil
}

// InsertJobIdempotent persists a pending job keyed by its
// caller-supplied ID. On conflict the insert is a no-op and the
// surviving row's ID is returned, unless the row belongs to another
// tenant.
func (s *Store) InsertJobIdempotent(ctx context.Context, j *job.Job) (string, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO differential_jobs (
			id, owner_hash, service, target_fn, target_args,
			idempotency_key, cache_key, status, remaining_attempts,
			timeout_interval_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		j.ID, j.OwnerHash, j.Service, j.TargetFn, j.TargetArgs,
		j.IdempotencyKey, j.CacheKey, string(j.Status), j.RemainingAttempts,
		j.TimeoutIntervalSeconds,
	)
	if err != nil {
		return "", false, fmt.Errorf("differential/postgres: insert job idempotent: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return j.ID, true, nil
	}

	// The row already existed; make sure it is ours before returning it.
	var ownerHash string
	err = s.pool.QueryRow(ctx,
		`SELECT owner_hash FROM differential_jobs WHERE id = $1`, j.ID,
	).Scan(&ownerHash)
	if err != nil {
		return "", false, fmt.Errorf("differential/postgres: insert job idempotent: read surviving row: %w", err)
	}
	if ownerHash != j.OwnerHash {
		return "", false, differential.ErrJobAlreadyExists
	}
	return j.ID, false, nil
}

// FindCachedResult returns the most recent fresh resolution matching
// the cache key, or "" on a miss.
func (s *Store) FindCachedResult(ctx context.Context, ownerHash, service, targetFn, cacheKey string, ttl time.Duration) (string, error) {
	var jobID string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM differential_jobs
		WHERE owner_hash = $1
		  AND service = $2
		  AND target_fn = $3
		  AND cache_key = $4
		  AND status = $5
		  AND result_type = $6
		  AND resulted_at > NOW() - $7::interval
		ORDER BY resulted_at DESC
		LIMIT 1`,
		ownerHash, service, targetFn, cacheKey,
		string(job.StatusTerminal), string(job.ResultResolution),
		ttl.String(),
	).Scan(&jobID)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("differential/postgres: find cached result: %w", err)
	}
	return jobID, nil
}

// ClaimJobs atomically claims up to opts.Limit pending jobs for
// (owner, service), sets them running, and returns them. FOR UPDATE
// SKIP LOCKED keeps concurrent claimers from receiving the same row.
func (s *Store) ClaimJobs(ctx context.Context, opts job.ClaimOpts) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE differential_jobs
			SET status = $4, executing_machine_id = $5,
				last_retrieved_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM differential_jobs
				WHERE status = $3
				  AND owner_hash = $1
				  AND service = $2
				ORDER BY created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $6
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed ORDER BY created_at ASC`,
		opts.OwnerHash, opts.Service,
		string(job.StatusPending), string(job.StatusRunning),
		opts.MachineID, opts.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("differential/postgres: claim jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job scoped by (jobID, ownerHash).
func (s *Store) GetJob(ctx context.Context, jobID, ownerHash string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM differential_jobs WHERE id = $1 AND owner_hash = $2`,
		jobID, ownerHash,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, differential.ErrJobNotFound
		}
		return nil, fmt.Errorf("differential/postgres: get job: %w", err)
	}
	return j, nil
}

// CompleteJob transitions a job to its terminal state and stores the result.
func (s *Store) CompleteJob(ctx context.Context, upd job.ResultUpdate) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE differential_jobs
		SET status = $3, result = $4, result_type = $5,
			function_execution_time = $6,
			predicted_retryable = $7, predicted_retryable_reason = $8,
			resulted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND owner_hash = $2
		RETURNING `+jobColumns,
		upd.JobID, upd.OwnerHash,
		string(job.StatusTerminal), upd.Result, string(upd.ResultType),
		upd.FunctionExecutionTime,
		upd.PredictedRetryable, upd.PredictedRetryableReason,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, differential.ErrJobNotFound
		}
		return nil, fmt.Errorf("differential/postgres: complete job: %w", err)
	}
	return j, nil
}

// RequeueJob sends a running job back to pending, consuming an
// attempt. The guard on status and remaining attempts makes the
// statement affect zero rows when it loses a race; that surfaces as
// ErrJobNotFound so callers fall back to CompleteJob.
func (s *Store) RequeueJob(ctx context.Context, upd job.ResultUpdate) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE differential_jobs
		SET status = $3, remaining_attempts = remaining_attempts - 1,
			result = $5, result_type = $6, function_execution_time = $7,
			predicted_retryable = $8, predicted_retryable_reason = $9,
			executing_machine_id = '', last_retrieved_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND owner_hash = $2
		  AND status = $4
		  AND remaining_attempts > 0
		RETURNING `+jobColumns,
		upd.JobID, upd.OwnerHash,
		string(job.StatusPending), string(job.StatusRunning),
		upd.Result, string(upd.ResultType), upd.FunctionExecutionTime,
		upd.PredictedRetryable, upd.PredictedRetryableReason,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, differential.ErrJobNotFound
		}
		return nil, fmt.Errorf("differential/postgres: requeue job: %w", err)
	}
	return j, nil
}

// FailStalledJobs marks running jobs whose timeout elapsed since the
// claim as stalled, returning the affected rows.
func (s *Store) FailStalledJobs(ctx context.Context) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE differential_jobs
		SET status = $2, updated_at = NOW()
		WHERE status = $1
		  AND timeout_interval_seconds IS NOT NULL
		  AND last_retrieved_at IS NOT NULL
		  AND last_retrieved_at < NOW() - make_interval(secs => timeout_interval_seconds)
		RETURNING `+jobColumns,
		string(job.StatusRunning), string(job.StatusStalled),
	)
	if err != nil {
		return nil, fmt.Errorf("differential/postgres: fail stalled jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// RecoverRetryableJobs sends stalled jobs with remaining attempts back
// to pending, returning the affected rows.
func (s *Store) RecoverRetryableJobs(ctx context.Context) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE differential_jobs
		SET status = $2, remaining_attempts = remaining_attempts - 1,
			executing_machine_id = '', last_retrieved_at = NULL,
			updated_at = NOW()
		WHERE status = $1
		  AND remaining_attempts > 0
		RETURNING `+jobColumns,
		string(job.StatusStalled), string(job.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("differential/postgres: recover retryable jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListJobsByStatus returns one tenant's jobs matching the status.
func (s *Store) ListJobsByStatus(ctx context.Context, ownerHash string, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM differential_jobs WHERE owner_hash = $1 AND status = $2`
	args := []any{ownerHash, string(status)}
	argIdx := 3

	if opts.Service != "" {
		query += fmt.Sprintf(" AND service = $%d", argIdx)
		args = append(args, opts.Service)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("differential/postgres: list jobs by status: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM differential_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.OwnerHash != "" {
		query += fmt.Sprintf(" AND owner_hash = $%d", argIdx)
		args = append(args, opts.OwnerHash)
		argIdx++
	}
	if opts.Service != "" {
		query += fmt.Sprintf(" AND service = $%d", argIdx)
		args = append(args, opts.Service)
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("differential/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j             job.Job
		statusStr     string
		resultTypeStr string
	)
	err := row.Scan(
		&j.ID, &j.OwnerHash, &j.Service, &j.TargetFn, &j.TargetArgs,
		&j.IdempotencyKey, &j.CacheKey, &statusStr, &j.Result, &resultTypeStr,
		&j.RemainingAttempts, &j.TimeoutIntervalSeconds,
		&j.ExecutingMachineID, &j.LastRetrievedAt,
		&j.FunctionExecutionTime, &j.PredictedRetryable, &j.PredictedRetryableReason,
		&j.CreatedAt, &j.UpdatedAt, &j.ResultedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = job.Status(statusStr)
	j.ResultType = job.ResultType(resultTypeStr)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("differential/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("differential/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
