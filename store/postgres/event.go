package postgres

import (
	"context"
	"fmt"

	"github.com/differentialhq/differential-sub000/event"
)

// AppendEvent persists one activity log row.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO differential_events (id, name, job_id, owner_hash, machine_id, service, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		evt.ID.String(), evt.Name, evt.JobID, evt.OwnerHash, evt.MachineID, evt.Service, evt.Meta, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("differential/postgres: append event: %w", err)
	}
	return nil
}

// ListEvents returns activity log rows for an owner, newest first.
func (s *Store) ListEvents(ctx context.Context, ownerHash string, opts event.ListOpts) ([]*event.Event, error) {
	query := `
		SELECT id, name, job_id, owner_hash, machine_id, service, meta, created_at
		FROM differential_events
		WHERE owner_hash = $1`
	args := []any{ownerHash}
	argIdx := 2

	if opts.JobID != "" {
		query += fmt.Sprintf(" AND job_id = $%d", argIdx)
		args = append(args, opts.JobID)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("differential/postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		var evt event.Event
		if err := rows.Scan(&evt.ID, &evt.Name, &evt.JobID, &evt.OwnerHash, &evt.MachineID, &evt.Service, &evt.Meta, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("differential/postgres: scan event row: %w", err)
		}
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("differential/postgres: iterate event rows: %w", err)
	}
	return events, nil
}
