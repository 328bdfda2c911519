// Package differential is a multi-tenant job execution control plane.
// Remote worker machines register as consumers of named services, pull
// units of work over HTTP long-poll, execute them, and report results
// back. The control plane owns the authoritative job lifecycle:
// admission (plain, idempotent, or cached), atomic claim under
// contention from many machines and control-plane replicas, result
// persistence with an optional predictive-retry classification step,
// and self-healing recovery of jobs whose executing machine died
// mid-flight.
//
// # Architecture
//
// The engine follows a composable store pattern where each subsystem
// (job, machine, event, definition) defines its own store interface and
// a single backend implements all of them. The Postgres backend is the
// production store; the memory backend serves tests and development.
//
//	store, err := postgres.New(ctx, "postgres://localhost:5432/differential")
//	eng, err := engine.New(store)
//	err = eng.Start(ctx)
//
// Delivery is at-least-once. Idempotency keys and result caching are
// opt-in mitigations, not exactly-once guarantees. There is no FIFO
// ordering: jobs are claimed in whatever order the store returns them
// under a LIMIT.
package differential
