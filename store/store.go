// Package store defines the aggregate persistence interface. Each
// subsystem (job, machine, event, definition) defines its own store
// interface and the composite Store composes them all, together with
// the distributed try-lock. A single backend implements everything:
// Postgres for production, Memory for tests and development.
package store

import (
	"context"

	"github.com/differentialhq/differential-sub000/definition"
	"github.com/differentialhq/differential-sub000/event"
	"github.com/differentialhq/differential-sub000/job"
	"github.com/differentialhq/differential-sub000/machine"
	"github.com/differentialhq/differential-sub000/mutex"
)

// Store is the aggregate persistence interface.
type Store interface {
	job.Store
	machine.Store
	event.Store
	definition.Store
	mutex.Locker

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
