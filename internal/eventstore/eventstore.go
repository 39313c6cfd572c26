package eventstore

import (
	"context"
	"errors"
	"time"

	"example.com/afms/internal/domain"
)

// ErrConcurrencyConflict is returned when a save carries a stale expected
// version. The caller must reload the current version and retry the command.
var ErrConcurrencyConflict = errors.New("event version conflict: aggregate was modified concurrently")

// EventStore is the interface for event storage
type EventStore interface {
	// SaveEvent appends one event with version expectedVersion+1. It fails
	// with ErrConcurrencyConflict when another writer already used that
	// version.
	SaveEvent(ctx context.Context, aggregateID, aggregateType, eventType string, eventData interface{}, expectedVersion int, metadata *domain.Metadata) (*domain.Event, error)

	// GetEvents returns an aggregate's events from fromVersion (exclusive),
	// ascending by version.
	GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]domain.Event, error)

	// GetAllEvents returns events across aggregates from fromTimestamp
	// onward, ascending by timestamp, capped at limit.
	GetAllEvents(ctx context.Context, fromTimestamp time.Time, limit int) ([]domain.Event, error)

	// GetLastEventVersion returns the highest stored version for an
	// aggregate, 0 when no events exist.
	GetLastEventVersion(ctx context.Context, aggregateID string) (int, error)
}
