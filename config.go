package differential

import "time"

// Config holds configuration for the control-plane engine.
type Config struct {
	// SweepSchedule is the cron descriptor for the self-healing sweeper,
	// e.g. "@every 5s".
	SweepSchedule string

	// SweepLockName is the advisory lock name serializing the sweeper
	// across control-plane replicas.
	SweepLockName string

	// DefinitionCacheTTL bounds staleness of the per-owner service
	// definition cache consulted during admission.
	DefinitionCacheTTL time.Duration

	// HotPollInterval is the claim retry sleep for owners with recent
	// activity; ColdPollInterval applies to everyone else.
	HotPollInterval  time.Duration
	ColdPollInterval time.Duration

	// HotWindow is the rolling window within which an owner counts as
	// having had work recently.
	HotWindow time.Duration

	// StatusPollInterval is how often a long-polled status read re-checks
	// the job row.
	StatusPollInterval time.Duration

	// MaxClaimTTL caps how long a single claim request may long-poll.
	MaxClaimTTL time.Duration

	// ClaimsPerSecond and ClaimBurst bound how often one owner's machines
	// may hit the claim statement, across all of that owner's pollers.
	ClaimsPerSecond float64
	ClaimBurst      int

	// DefaultMaxAttempts applies when a function's policy does not set
	// max attempts.
	DefaultMaxAttempts int

	// MachineStaleThreshold is how long after its last heartbeat a
	// machine is considered dead.
	MachineStaleThreshold time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SweepSchedule:         "@every 5s",
		SweepLockName:         "differential:sweeper",
		DefinitionCacheTTL:    5 * time.Second,
		HotPollInterval:       100 * time.Millisecond,
		ColdPollInterval:      1 * time.Second,
		HotWindow:             30 * time.Second,
		StatusPollInterval:    100 * time.Millisecond,
		MaxClaimTTL:           30 * time.Second,
		ClaimsPerSecond:       100,
		ClaimBurst:            200,
		DefaultMaxAttempts:    1,
		MachineStaleThreshold: 90 * time.Second,
	}
}
