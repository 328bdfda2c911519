package event

import "context"

// ListOpts filters activity log reads.
type ListOpts struct {
	JobID string
	Limit int
}

// Store defines the persistence contract for the activity log.
type Store interface {
	// AppendEvent persists one activity log row.
	AppendEvent(ctx context.Context, evt *Event) error

	// ListEvents returns activity log rows for an owner, newest first.
	ListEvents(ctx context.Context, ownerHash string, opts ListOpts) ([]*Event, error)
}
