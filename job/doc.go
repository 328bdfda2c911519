// Package job defines the central Job entity, its lifecycle states, and
// the persistence contract expressing every state transition as a
// conditional atomic statement.
//
// Valid transitions:
//
//	pending → running          (claim)
//	running → success          (result persisted, terminal)
//	running → failure          (sweeper stall detection)
//	failure → pending          (sweeper recovery, iff attempts remain)
//
// RemainingAttempts never increases; a stall at zero attempts is final.
package job
