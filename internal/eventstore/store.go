package eventstore

import (
	"context"
	"time"
)

// Store persists and retrieves run events.
type Store interface {
	// Append adds an event to the log. The timestamp is stored with millisecond precision.
	Append(ctx context.Context, runID, eventType string, at time.Time, payload []byte, metadata map[string]string) error

	// GetByRunID retrieves all events for a run in append order.
	GetByRunID(ctx context.Context, runID string) ([]Event, error)

	// GetRange retrieves events within a time range in append order.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// Close releases the underlying database.
	Close() error
}
