package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/afms/internal/cqrs"
	"example.com/afms/internal/idempotency"
	"example.com/afms/internal/metrics"
	"example.com/afms/internal/tracing"
)

// Operation name used for idempotency key derivation
const OperationAttendanceSync = "attendance_sync"

// Command and query types
const (
	CommandRecordAttendance    = "RecordAttendance"
	QueryGetEmployeeAttendance = "GetEmployeeAttendance"
)

// ScanPayload is the device sync payload
type ScanPayload struct {
	DeviceID   string `json:"device_id" binding:"required"`
	UserID     string `json:"user_id" binding:"required"`
	Timestamp  int64  `json:"timestamp" binding:"required"`
	VerifyType int    `json:"verify_type"`
	InOutMode  int    `json:"in_out_mode"`
	BranchID   string `json:"branch_id"`
}

// ScanResult is the outcome of one processed scan
type ScanResult struct {
	Duplicate      bool   `json:"duplicate"`
	Suppressed     bool   `json:"suppressed"`
	EventID        string `json:"event_id,omitempty"`
	Version        int    `json:"version,omitempty"`
	LateMinutes    int    `json:"late_minutes"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// AttendanceService orchestrates the scan pipeline: dedup check, idempotency
// check, command dispatch, terminal idempotency state.
type AttendanceService struct {
	idem      *idempotency.Service
	commands  *cqrs.CommandBus
	queries   *cqrs.QueryBus
	collector *metrics.Collector
	tracer    tracing.Tracer
}

// NewAttendanceService creates a new attendance service
func NewAttendanceService(idem *idempotency.Service, commands *cqrs.CommandBus, queries *cqrs.QueryBus, collector *metrics.Collector, tracer tracing.Tracer) *AttendanceService {
	return &AttendanceService{
		idem:      idem,
		commands:  commands,
		queries:   queries,
		collector: collector,
		tracer:    tracer,
	}
}

// ProcessScan runs one device scan through the pipeline
func (s *AttendanceService) ProcessScan(ctx context.Context, payload *ScanPayload) (*ScanResult, error) {
	txn := s.tracer.StartTransaction("attendance/process-scan")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "device_id", payload.DeviceID)

	scannedAt := time.Unix(payload.Timestamp, 0).UTC()

	// Device-level dedup first: two scans of the same finger inside the
	// window are one physical event.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal scan payload")
	}
	if s.idem.CheckAttendanceDeduplication(ctx, payload.DeviceID, payload.UserID, fingerprintContent(payload), scannedAt, 0) {
		s.collector.IncrementCounter(metrics.CounterScansDeduplicated, 1)
		return &ScanResult{Suppressed: true}, nil
	}

	var requestData map[string]interface{}
	if err := json.Unmarshal(raw, &requestData); err != nil {
		return nil, errors.Wrap(err, "failed to decode scan payload")
	}

	check, err := s.idem.Check(ctx, payload.DeviceID, OperationAttendanceSync, requestData, payload.UserID, 0)
	if err != nil {
		if errors.Is(err, idempotency.ErrKeyCollision) {
			s.collector.IncrementCounter(metrics.CounterIdempotencyConflict, 1)
		}
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if check.IsDuplicate {
		s.collector.IncrementCounter(metrics.CounterIdempotencyHits, 1)
		result := &ScanResult{Duplicate: true, IdempotencyKey: check.IdempotencyKey}
		if len(check.ExistingResponse) > 0 {
			if err := json.Unmarshal(check.ExistingResponse, result); err != nil {
				log.Warn().Err(err).Msg("Failed to decode stored idempotent response")
			}
			result.Duplicate = true
		}
		return result, nil
	}

	cmd := cqrs.Command{
		ID:          uuid.New().String(),
		Type:        CommandRecordAttendance,
		AggregateID: payload.UserID,
		Payload: map[string]interface{}{
			"device_id":    payload.DeviceID,
			"employee_id":  payload.UserID,
			"branch_id":    payload.BranchID,
			"scanned_at":   scannedAt.Format(time.RFC3339),
			"verify_type":  payload.VerifyType,
			"in_out_mode":  payload.InOutMode,
			"payload_hash": idempotency.RequestHash(requestData),
		},
		UserID:    payload.UserID,
		Timestamp: time.Now().UTC(),
	}

	response, err := s.commands.Dispatch(ctx, cmd)
	if err != nil {
		s.idem.MarkFailed(ctx, check.IdempotencyKey, err)
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	result, ok := response.(*ScanResult)
	if !ok {
		result = &ScanResult{}
	}
	result.IdempotencyKey = check.IdempotencyKey
	s.idem.MarkCompleted(ctx, check.IdempotencyKey, result)
	return result, nil
}

// GetEmployeeAttendance reads the daily summary for an employee via the
// query bus.
func (s *AttendanceService) GetEmployeeAttendance(ctx context.Context, employeeID string, date string) (interface{}, error) {
	query := cqrs.Query{
		ID:   uuid.New().String(),
		Type: QueryGetEmployeeAttendance,
		Payload: map[string]interface{}{
			"employee_id": employeeID,
			"date":        date,
		},
		Timestamp: time.Now().UTC(),
	}
	return s.queries.Dispatch(ctx, query)
}

// fingerprintContent is the scan identity used for dedup: everything that
// identifies the physical event, excluding the client clock.
func fingerprintContent(payload *ScanPayload) []byte {
	content, _ := json.Marshal(map[string]interface{}{
		"device_id":   payload.DeviceID,
		"user_id":     payload.UserID,
		"verify_type": payload.VerifyType,
		"in_out_mode": payload.InOutMode,
	})
	return content
}
