// Package event persists the append-only activity log. Every lifecycle
// transition a job goes through produces one event row, which is what
// the dashboard timeline and offline debugging read from.
package event

import (
	"time"

	"github.com/differentialhq/differential-sub000/id"
)

// Lifecycle event names, one per observable job transition.
const (
	JobCreated               = "jobCreated"
	JobReceived              = "jobReceived"
	JobResulted              = "jobResulted"
	JobStalled               = "jobStalled"
	JobRecovered             = "jobRecovered"
	PredictorRetryableResult = "predictorRetryableResult"
)

// Event is one row in the activity log.
type Event struct {
	ID        id.EventID `json:"id"`
	Name      string     `json:"name"`
	JobID     string     `json:"job_id"`
	OwnerHash string     `json:"owner_hash"`
	MachineID string     `json:"machine_id,omitempty"`
	Service   string     `json:"service,omitempty"`
	Meta      []byte     `json:"meta,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
