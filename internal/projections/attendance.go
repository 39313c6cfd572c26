package projections

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/afms/internal/cache"
	"example.com/afms/internal/domain"
	"example.com/afms/internal/models"
	"example.com/afms/internal/repository"
	"example.com/afms/internal/search"
)

// Index name for the Elasticsearch mirror
const AttendanceSummariesIndex = "attendance-summaries"

// AttendanceSummaryModelType is the read model type this projection owns
const AttendanceSummaryModelType = "attendance_summary"

// AttendanceSummary is the per-employee-per-day read model
type AttendanceSummary struct {
	EmployeeID  string     `json:"employee_id"`
	Date        string     `json:"date"`
	FirstIn     *time.Time `json:"first_in,omitempty"`
	LastOut     *time.Time `json:"last_out,omitempty"`
	ScanCount   int        `json:"scan_count"`
	LateMinutes int        `json:"late_minutes"`
	Devices     []string   `json:"devices"`
}

// SummaryID builds the read model ID for an employee and day
func SummaryID(employeeID string, day time.Time) string {
	return employeeID + ":" + day.UTC().Format("2006-01-02")
}

// AttendanceSummaryProjection folds attendance events into daily summaries,
// keeps the Redis cache coherent and mirrors the result to Elasticsearch.
type AttendanceSummaryProjection struct {
	repo    repository.ReadModelRepository
	cache   cache.Client
	elastic *search.Client
}

// NewAttendanceSummaryProjection creates a new attendance summary projection
func NewAttendanceSummaryProjection(repo repository.ReadModelRepository, cacheClient cache.Client, elastic *search.Client) *AttendanceSummaryProjection {
	return &AttendanceSummaryProjection{
		repo:    repo,
		cache:   cacheClient,
		elastic: elastic,
	}
}

// Name implements cqrs.Projection
func (p *AttendanceSummaryProjection) Name() string { return "attendance-summary" }

// ModelType implements cqrs.Projection
func (p *AttendanceSummaryProjection) ModelType() string { return AttendanceSummaryModelType }

// EventTypes implements cqrs.Projection
func (p *AttendanceSummaryProjection) EventTypes() []string {
	return []string{domain.AttendanceRecorded}
}

// Apply folds one attendance event into the summary for its day. Upsert
// semantics: a rebuild that replays the same events produces the same rows.
func (p *AttendanceSummaryProjection) Apply(ctx context.Context, event domain.Event) error {
	var data domain.AttendanceRecordedEvent
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return errors.Wrap(err, "failed to unmarshal attendance event")
	}

	modelID := SummaryID(data.EmployeeID, data.ScannedAt)

	summary := AttendanceSummary{
		EmployeeID: data.EmployeeID,
		Date:       data.ScannedAt.UTC().Format("2006-01-02"),
	}
	version := 0

	existing, err := p.repo.FindByTypeAndID(ctx, AttendanceSummaryModelType, modelID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return errors.Wrap(err, "failed to load attendance summary")
	}
	if existing != nil {
		if err := json.Unmarshal(existing.Data, &summary); err != nil {
			return errors.Wrap(err, "failed to unmarshal attendance summary")
		}
		version = existing.Version
	}

	scannedAt := data.ScannedAt.UTC()
	summary.ScanCount++
	if data.InOutMode == 0 {
		if summary.FirstIn == nil || scannedAt.Before(*summary.FirstIn) {
			summary.FirstIn = &scannedAt
		}
		if data.LateMinutes > summary.LateMinutes {
			summary.LateMinutes = data.LateMinutes
		}
	} else {
		if summary.LastOut == nil || scannedAt.After(*summary.LastOut) {
			summary.LastOut = &scannedAt
		}
	}
	if !containsString(summary.Devices, data.DeviceID) {
		summary.Devices = append(summary.Devices, data.DeviceID)
	}

	doc, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "failed to marshal attendance summary")
	}

	model := &models.ReadModel{
		ModelType: AttendanceSummaryModelType,
		ModelID:   modelID,
		Data:      doc,
		Version:   version + 1,
	}
	if err := p.repo.Upsert(ctx, model); err != nil {
		return errors.Wrap(err, "failed to upsert attendance summary")
	}

	// Cache and search mirror are best-effort side effects
	if p.cache != nil {
		if err := p.cache.SetSummary(ctx, modelID, doc); err != nil {
			log.Warn().Err(err).Str("model_id", modelID).Msg("Failed to cache attendance summary")
		}
	}
	if p.elastic != nil {
		if err := p.elastic.IndexDocument(ctx, AttendanceSummariesIndex, modelID, doc); err != nil {
			log.Warn().Err(err).Str("model_id", modelID).Msg("Failed to index attendance summary")
		}
	}

	return nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
