package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/machine"
)

const machineColumns = `id, owner_hash, ip, deployment_id, last_seen, created_at`

// UpsertMachine records a heartbeat: it inserts the machine or
// refreshes the mutable columns on the existing row.
func (s *Store) UpsertMachine(ctx context.Context, m *machine.Machine) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO differential_machines (id, owner_hash, ip, deployment_id, last_seen)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			ip = EXCLUDED.ip,
			deployment_id = EXCLUDED.deployment_id,
			last_seen = EXCLUDED.last_seen`,
		m.ID, m.OwnerHash, m.IP, m.DeploymentID, m.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("differential/postgres: upsert machine: %w", err)
	}
	return nil
}

// GetMachine retrieves a machine scoped by (machineID, ownerHash).
func (s *Store) GetMachine(ctx context.Context, machineID, ownerHash string) (*machine.Machine, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+machineColumns+` FROM differential_machines WHERE id = $1 AND owner_hash = $2`,
		machineID, ownerHash,
	)

	m, err := scanMachine(row)
	if err != nil {
		if isNoRows(err) {
			return nil, differential.ErrMachineNotFound
		}
		return nil, fmt.Errorf("differential/postgres: get machine: %w", err)
	}
	return m, nil
}

// ListMachines returns a tenant's machines, most recently seen first.
func (s *Store) ListMachines(ctx context.Context, ownerHash string) ([]*machine.Machine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+machineColumns+` FROM differential_machines WHERE owner_hash = $1 ORDER BY last_seen DESC`,
		ownerHash,
	)
	if err != nil {
		return nil, fmt.Errorf("differential/postgres: list machines: %w", err)
	}
	defer rows.Close()

	return collectMachines(rows)
}

// ReapDeadMachines removes machines past the heartbeat threshold,
// returning the removed rows.
func (s *Store) ReapDeadMachines(ctx context.Context, threshold time.Duration) ([]*machine.Machine, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM differential_machines
		WHERE last_seen < NOW() - $1::interval
		RETURNING `+machineColumns,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("differential/postgres: reap dead machines: %w", err)
	}
	defer rows.Close()

	return collectMachines(rows)
}

func scanMachine(row pgx.Row) (*machine.Machine, error) {
	var m machine.Machine
	err := row.Scan(&m.ID, &m.OwnerHash, &m.IP, &m.DeploymentID, &m.LastSeen, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMachines(rows pgx.Rows) ([]*machine.Machine, error) {
	var machines []*machine.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("differential/postgres: scan machine row: %w", err)
		}
		machines = append(machines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("differential/postgres: iterate machine rows: %w", err)
	}
	return machines, nil
}
