package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/afms/internal/domain"
	"example.com/afms/internal/models"
)

// GormEventStore implements EventStore using GORM. It relies on the
// (aggregate_id, version) unique index and the driver's duplicated-key
// translation to detect concurrent writers; the database must be opened
// with gorm.Config.TranslateError enabled.
type GormEventStore struct {
	db *gorm.DB
}

// NewGormEventStore creates a new GORM event store
func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// SaveEvent saves one event with version expectedVersion+1
func (s *GormEventStore) SaveEvent(ctx context.Context, aggregateID, aggregateType, eventType string, eventData interface{}, expectedVersion int, metadata *domain.Metadata) (*domain.Event, error) {
	data, err := json.Marshal(eventData)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event data")
	}

	meta := domain.Metadata{}
	if metadata != nil {
		meta = *metadata
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event metadata")
	}

	event := domain.Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Type:          eventType,
		Version:       expectedVersion + 1,
		Timestamp:     time.Now().UTC(),
		Data:          data,
		Metadata:      meta,
	}

	dbEvent := models.Event{
		EventID:       event.ID,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     event.Type,
		Data:          event.Data,
		Metadata:      metaBytes,
		Version:       event.Version,
		Timestamp:     event.Timestamp,
	}

	if err := s.db.WithContext(ctx).Create(&dbEvent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Warn().
				Str("aggregate_id", aggregateID).
				Int("expected_version", expectedVersion).
				Msg("Concurrent write detected on aggregate")
			return nil, ErrConcurrencyConflict
		}
		return nil, errors.Wrap(err, "failed to save event")
	}

	log.Info().
		Str("aggregate_id", event.AggregateID).
		Str("event_type", event.Type).
		Int("version", event.Version).
		Msg("Event saved")

	return &event, nil
}

// GetEvents gets an aggregate's events after fromVersion, ascending by version
func (s *GormEventStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]domain.Event, error) {
	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND version > ?", aggregateID, fromVersion).
		Order("version ASC").
		Find(&dbEvents).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get events")
	}
	return toDomainEvents(dbEvents), nil
}

// GetAllEvents gets events across aggregates, ascending by timestamp
func (s *GormEventStore) GetAllEvents(ctx context.Context, fromTimestamp time.Time, limit int) ([]domain.Event, error) {
	var dbEvents []models.Event
	if err := s.db.WithContext(ctx).
		Where("timestamp >= ?", fromTimestamp).
		Order("timestamp ASC, id ASC").
		Limit(limit).
		Find(&dbEvents).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get all events")
	}
	return toDomainEvents(dbEvents), nil
}

// GetLastEventVersion returns the highest stored version for an aggregate
func (s *GormEventStore) GetLastEventVersion(ctx context.Context, aggregateID string) (int, error) {
	var version *int
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("aggregate_id = ?", aggregateID).
		Select("MAX(version)").
		Scan(&version).Error; err != nil {
		return 0, errors.Wrap(err, "failed to get last event version")
	}
	if version == nil {
		return 0, nil
	}
	return *version, nil
}

func toDomainEvents(dbEvents []models.Event) []domain.Event {
	events := make([]domain.Event, len(dbEvents))
	for i, dbEvent := range dbEvents {
		var meta domain.Metadata
		if len(dbEvent.Metadata) > 0 {
			if err := json.Unmarshal(dbEvent.Metadata, &meta); err != nil {
				log.Warn().Err(err).Str("event_id", dbEvent.EventID).Msg("Failed to unmarshal event metadata")
			}
		}
		events[i] = domain.Event{
			ID:            dbEvent.EventID,
			AggregateID:   dbEvent.AggregateID,
			AggregateType: dbEvent.AggregateType,
			Type:          dbEvent.EventType,
			Version:       dbEvent.Version,
			Timestamp:     dbEvent.Timestamp,
			Data:          dbEvent.Data,
			Metadata:      meta,
		}
	}
	return events
}
