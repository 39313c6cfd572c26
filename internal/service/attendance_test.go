package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/afms/config"
	"example.com/afms/internal/cqrs"
	"example.com/afms/internal/eventbus"
	"example.com/afms/internal/idempotency"
	"example.com/afms/internal/metrics"
	"example.com/afms/internal/models"
	"example.com/afms/internal/repository"
	"example.com/afms/internal/tracing"
)

// In-memory idempotency storage for pipeline tests
type memoryIdempotencyRepository struct {
	records map[string]*models.IdempotencyKey
}

func newMemoryIdempotencyRepository() *memoryIdempotencyRepository {
	return &memoryIdempotencyRepository{records: make(map[string]*models.IdempotencyKey)}
}

func (r *memoryIdempotencyRepository) Create(ctx context.Context, record *models.IdempotencyKey) error {
	if _, exists := r.records[record.Key]; exists {
		return repository.ErrDuplicateKey
	}
	copied := *record
	r.records[record.Key] = &copied
	return nil
}

func (r *memoryIdempotencyRepository) FindByKey(ctx context.Context, key string) (*models.IdempotencyKey, error) {
	record, ok := r.records[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *memoryIdempotencyRepository) Update(ctx context.Context, record *models.IdempotencyKey) error {
	copied := *record
	r.records[record.Key] = &copied
	return nil
}

func (r *memoryIdempotencyRepository) DeleteByKey(ctx context.Context, key string) error {
	delete(r.records, key)
	return nil
}

func (r *memoryIdempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	for key, record := range r.records {
		if record.ExpiresAt.Before(now) {
			delete(r.records, key)
			count++
		}
	}
	return count, nil
}

type memoryScanRepository struct {
	scans []*models.AttendanceScan
}

func (r *memoryScanRepository) Create(ctx context.Context, scan *models.AttendanceScan) error {
	copied := *scan
	r.scans = append(r.scans, &copied)
	return nil
}

func (r *memoryScanRepository) HasRecent(ctx context.Context, deviceID, employeeID, payloadHash string, since time.Time) (bool, error) {
	for _, scan := range r.scans {
		if scan.DeviceID == deviceID && scan.EmployeeID == employeeID &&
			scan.PayloadHash == payloadHash && !scan.ScannedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func newPipeline(t *testing.T) (*AttendanceService, *fakeEventStore) {
	t.Helper()

	store := &fakeEventStore{}
	bus := eventbus.NewBus(eventbus.WithBackoffBase(time.Millisecond))
	collector := metrics.NewCollector()

	idem := idempotency.NewService(newMemoryIdempotencyRepository(), &memoryScanRepository{})

	commands := cqrs.NewCommandBus(collector)
	commands.Register(CommandRecordAttendance, NewRecordAttendanceHandler(store, bus, collector, "09:00"))
	queries := cqrs.NewQueryBus(collector)

	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	return NewAttendanceService(idem, commands, queries, collector, tracer), store
}

func scanAt(ts time.Time) *ScanPayload {
	return &ScanPayload{
		DeviceID:   "dev-1",
		UserID:     "emp-1",
		Timestamp:  ts.Unix(),
		VerifyType: 1,
		InOutMode:  0,
	}
}

func TestProcessScanHappyPath(t *testing.T) {
	svc, store := newPipeline(t)

	scannedAt := time.Date(2026, 8, 31, 9, 10, 0, 0, time.UTC)
	result, err := svc.ProcessScan(context.Background(), scanAt(scannedAt))
	require.NoError(t, err)

	require.False(t, result.Duplicate)
	require.False(t, result.Suppressed)
	require.Equal(t, 1, result.Version)
	require.Equal(t, 10, result.LateMinutes)
	require.NotEmpty(t, result.EventID)
	require.NotEmpty(t, result.IdempotencyKey)
	require.Len(t, store.events, 1)
}

func TestProcessScanSuppressesRapidDoubleScan(t *testing.T) {
	svc, store := newPipeline(t)

	scannedAt := time.Date(2026, 8, 31, 9, 10, 0, 0, time.UTC)
	_, err := svc.ProcessScan(context.Background(), scanAt(scannedAt))
	require.NoError(t, err)

	// Second press of the same finger 30 seconds later
	result, err := svc.ProcessScan(context.Background(), scanAt(scannedAt.Add(30*time.Second)))
	require.NoError(t, err)
	require.True(t, result.Suppressed)
	require.Len(t, store.events, 1)
}

func TestProcessScanReplaysIdenticalRequest(t *testing.T) {
	svc, store := newPipeline(t)

	// Same scan delivered twice, outside the dedup path (different devices
	// share no dedup rows, so force the idempotency path by replaying the
	// exact same payload after the dedup window).
	scannedAt := time.Date(2026, 8, 31, 9, 10, 0, 0, time.UTC)
	payload := scanAt(scannedAt)

	first, err := svc.ProcessScan(context.Background(), payload)
	require.NoError(t, err)

	// Retry an hour later: the dedup window has passed but the idempotency
	// key, which ignores the client timestamp, still matches.
	retry := scanAt(scannedAt.Add(time.Hour))
	second, err := svc.ProcessScan(context.Background(), retry)
	require.NoError(t, err)

	require.True(t, second.Duplicate)
	require.Equal(t, first.EventID, second.EventID)
	require.Len(t, store.events, 1)
}

func TestProcessScanDistinctEmployeesAreIndependent(t *testing.T) {
	svc, store := newPipeline(t)

	scannedAt := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	_, err := svc.ProcessScan(context.Background(), scanAt(scannedAt))
	require.NoError(t, err)

	other := scanAt(scannedAt)
	other.UserID = "emp-2"
	result, err := svc.ProcessScan(context.Background(), other)
	require.NoError(t, err)

	require.False(t, result.Duplicate)
	require.False(t, result.Suppressed)
	require.Len(t, store.events, 2)
}
