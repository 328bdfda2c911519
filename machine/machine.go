// Package machine tracks the worker machines polling the control plane.
// Machines are soft-registered: the claim path upserts a heartbeat
// record on every poll, and records go stale rather than being
// deregistered when a machine dies.
package machine

import (
	"context"
	"time"
)

// Machine is a remote worker known to the control plane.
type Machine struct {
	// ID is the machine's self-assigned identifier, sent with every poll.
	ID string `json:"id"`

	// OwnerHash is the tenant the machine belongs to.
	OwnerHash string `json:"owner_hash"`

	// IP is the address observed on the most recent poll.
	IP string `json:"ip,omitempty"`

	// DeploymentID associates the machine with a provisioned deployment,
	// when the downstream deployment scheduler is in use.
	DeploymentID string `json:"deployment_id,omitempty"`

	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// Store defines the persistence contract for the machine registry.
type Store interface {
	// UpsertMachine records a heartbeat: it inserts the machine or
	// refreshes LastSeen, IP, and DeploymentID on the existing row.
	UpsertMachine(ctx context.Context, m *Machine) error

	// GetMachine retrieves a machine scoped by (machineID, ownerHash).
	GetMachine(ctx context.Context, machineID, ownerHash string) (*Machine, error)

	// ListMachines returns all machines for a tenant, most recently seen
	// first.
	ListMachines(ctx context.Context, ownerHash string) ([]*Machine, error)

	// ReapDeadMachines returns machines whose last heartbeat is older
	// than the given threshold.
	ReapDeadMachines(ctx context.Context, threshold time.Duration) ([]*Machine, error)
}
