package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/afms/internal/cache"
	"example.com/afms/internal/cqrs"
	"example.com/afms/internal/domain"
	"example.com/afms/internal/eventbus"
	"example.com/afms/internal/eventstore"
	"example.com/afms/internal/metrics"
	"example.com/afms/internal/projections"
	"example.com/afms/internal/repository"
	"example.com/afms/internal/rules"
)

// maxSaveAttempts bounds retries on version conflicts between concurrent
// writers for the same employee.
const maxSaveAttempts = 3

// RecordAttendanceHandler appends an attendance event and publishes it
type RecordAttendanceHandler struct {
	store        eventstore.EventStore
	bus          *eventbus.Bus
	collector    *metrics.Collector
	workdayStart string
}

// NewRecordAttendanceHandler creates the RecordAttendance command handler.
// workdayStart is the "HH:MM" shift start used for lateness.
func NewRecordAttendanceHandler(store eventstore.EventStore, bus *eventbus.Bus, collector *metrics.Collector, workdayStart string) *RecordAttendanceHandler {
	return &RecordAttendanceHandler{
		store:        store,
		bus:          bus,
		collector:    collector,
		workdayStart: workdayStart,
	}
}

// Handle implements cqrs.CommandHandler
func (h *RecordAttendanceHandler) Handle(ctx context.Context, cmd cqrs.Command) (interface{}, error) {
	scannedAt, err := parseTime(cmd.Payload, "scanned_at")
	if err != nil {
		return nil, err
	}

	inOutMode := payloadInt(cmd.Payload, "in_out_mode")
	data := domain.AttendanceRecordedEvent{
		EmployeeID:  payloadString(cmd.Payload, "employee_id"),
		DeviceID:    payloadString(cmd.Payload, "device_id"),
		BranchID:    payloadString(cmd.Payload, "branch_id"),
		ScannedAt:   scannedAt,
		VerifyType:  payloadInt(cmd.Payload, "verify_type"),
		InOutMode:   inOutMode,
		PayloadHash: payloadString(cmd.Payload, "payload_hash"),
	}
	if inOutMode == 0 {
		data.LateMinutes = lateMinutes(scannedAt, h.workdayStart)
	}

	metadata := &domain.Metadata{
		CorrelationID: cmd.ID,
		CausationID:   cmd.ID,
		UserID:        cmd.UserID,
	}

	var event *domain.Event
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		version, err := h.store.GetLastEventVersion(ctx, cmd.AggregateID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read last event version")
		}

		event, err = h.store.SaveEvent(ctx, cmd.AggregateID, domain.AggregateEmployee, domain.AttendanceRecorded, data, version, metadata)
		if err == nil {
			break
		}
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			log.Warn().
				Str("aggregate_id", cmd.AggregateID).
				Int("attempt", attempt+1).
				Msg("Version conflict saving attendance event, retrying")
			continue
		}
		return nil, err
	}
	if event == nil {
		return nil, eventstore.ErrConcurrencyConflict
	}

	h.collector.IncrementCounter(metrics.CounterEventsSaved, 1)
	h.bus.Publish(ctx, *event)
	h.collector.IncrementCounter(metrics.CounterEventsPublished, 1)

	return &ScanResult{
		EventID:     event.ID,
		Version:     event.Version,
		LateMinutes: data.LateMinutes,
	}, nil
}

// lateMinutes returns minutes elapsed past the shift start on the scan's day,
// 0 for on-time or unparseable configuration.
func lateMinutes(scannedAt time.Time, workdayStart string) int {
	start, err := time.Parse("15:04", workdayStart)
	if err != nil {
		log.Warn().Str("workday_start", workdayStart).Msg("Invalid workday start, lateness disabled")
		return 0
	}

	scanned := scannedAt.UTC()
	shift := time.Date(scanned.Year(), scanned.Month(), scanned.Day(), start.Hour(), start.Minute(), 0, 0, time.UTC)
	if !scanned.After(shift) {
		return 0
	}
	return int(scanned.Sub(shift) / time.Minute)
}

// EmployeeAttendanceQueryHandler serves daily summaries, cache first
type EmployeeAttendanceQueryHandler struct {
	repo  repository.ReadModelRepository
	cache cache.Client
}

// NewEmployeeAttendanceQueryHandler creates the attendance query handler
func NewEmployeeAttendanceQueryHandler(repo repository.ReadModelRepository, cacheClient cache.Client) *EmployeeAttendanceQueryHandler {
	return &EmployeeAttendanceQueryHandler{repo: repo, cache: cacheClient}
}

// Handle implements cqrs.QueryHandler
func (h *EmployeeAttendanceQueryHandler) Handle(ctx context.Context, query cqrs.Query) (interface{}, error) {
	employeeID := payloadString(query.Payload, "employee_id")
	date := payloadString(query.Payload, "date")
	if employeeID == "" || date == "" {
		return nil, errors.New("employee_id and date are required")
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, errors.Wrap(err, "invalid date, expected YYYY-MM-DD")
	}
	modelID := projections.SummaryID(employeeID, day)

	if h.cache != nil {
		cached, err := h.cache.GetSummary(ctx, modelID)
		if err == nil {
			var summary projections.AttendanceSummary
			if err := json.Unmarshal(cached, &summary); err == nil {
				return &summary, nil
			}
		} else if !cache.IsMiss(err) {
			log.Warn().Err(err).Str("model_id", modelID).Msg("Summary cache read failed")
		}
	}

	model, err := h.repo.FindByTypeAndID(ctx, projections.AttendanceSummaryModelType, modelID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to load attendance summary")
	}

	var summary projections.AttendanceSummary
	if err := json.Unmarshal(model.Data, &summary); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal attendance summary")
	}

	if h.cache != nil {
		if err := h.cache.SetSummary(ctx, modelID, model.Data); err != nil {
			log.Warn().Err(err).Str("model_id", modelID).Msg("Summary cache write failed")
		}
	}
	return &summary, nil
}

// NewRulesSubscriber builds the event bus handler that runs attendance rules
// against every recorded scan.
func NewRulesSubscriber(engine *rules.Engine) eventbus.Handler {
	return eventbus.HandlerFunc("rules:attendance", func(ctx context.Context, event domain.Event) error {
		var attendance map[string]interface{}
		if err := json.Unmarshal(event.Data, &attendance); err != nil {
			return errors.Wrap(err, "failed to decode attendance event")
		}

		rctx := rules.Context{
			"attendanceData": attendance,
			"eventId":        event.ID,
			"aggregateId":    event.AggregateID,
		}
		results, err := engine.ExecuteRules(ctx, "attendance", rctx)
		if err != nil {
			return err
		}

		for _, result := range results {
			if result.Executed {
				log.Info().
					Str("rule_id", result.RuleID).
					Str("rule_name", result.RuleName).
					Str("event_id", event.ID).
					Msg("Attendance rule executed")
			}
		}
		return nil
	})
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// payloadInt tolerates both int payloads built in-process and float64 values
// decoded from JSON.
func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func parseTime(payload map[string]interface{}, key string) (time.Time, error) {
	raw := payloadString(payload, key)
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid %s", key)
	}
	return t, nil
}
