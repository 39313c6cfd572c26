package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/afms/internal/models"
	"example.com/afms/internal/repository"
)

// Mock repositories for testing
type MockIdempotencyRepository struct {
	mock.Mock
}

func (m *MockIdempotencyRepository) Create(ctx context.Context, record *models.IdempotencyKey) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockIdempotencyRepository) FindByKey(ctx context.Context, key string) (*models.IdempotencyKey, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.IdempotencyKey), args.Error(1)
}

func (m *MockIdempotencyRepository) Update(ctx context.Context, record *models.IdempotencyKey) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockIdempotencyRepository) DeleteByKey(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockIdempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type MockAttendanceScanRepository struct {
	mock.Mock
}

func (m *MockAttendanceScanRepository) Create(ctx context.Context, scan *models.AttendanceScan) error {
	args := m.Called(ctx, scan)
	return args.Error(0)
}

func (m *MockAttendanceScanRepository) HasRecent(ctx context.Context, deviceID, employeeID, payloadHash string, since time.Time) (bool, error) {
	args := m.Called(ctx, deviceID, employeeID, payloadHash, since)
	return args.Bool(0), args.Error(1)
}

func scanRequest() map[string]interface{} {
	return map[string]interface{}{
		"device_id":   "dev-1",
		"user_id":     "emp-1",
		"verify_type": float64(1),
		"in_out_mode": float64(0),
	}
}

func TestGenerateKeyIsDeterministic(t *testing.T) {
	a := GenerateKey("dev-1", "attendance_sync", scanRequest(), "emp-1")
	b := GenerateKey("dev-1", "attendance_sync", scanRequest(), "emp-1")
	require.Equal(t, a, b)
	require.Len(t, a, 64)

	// Any component change yields a different key
	require.NotEqual(t, a, GenerateKey("dev-2", "attendance_sync", scanRequest(), "emp-1"))
	require.NotEqual(t, a, GenerateKey("dev-1", "other_op", scanRequest(), "emp-1"))
	require.NotEqual(t, a, GenerateKey("dev-1", "attendance_sync", scanRequest(), "emp-2"))
}

func TestGenerateKeyIgnoresVolatileFields(t *testing.T) {
	withTimestamp := scanRequest()
	withTimestamp["timestamp"] = "2026-08-31T08:00:00Z"
	withOtherTimestamp := scanRequest()
	withOtherTimestamp["timestamp"] = "2026-08-31T08:00:07Z"
	withOtherTimestamp["nonce"] = "abc123"

	require.Equal(t,
		GenerateKey("dev-1", "attendance_sync", withTimestamp, "emp-1"),
		GenerateKey("dev-1", "attendance_sync", withOtherTimestamp, "emp-1"))
}

func TestGenerateKeyIgnoresMapOrder(t *testing.T) {
	// encoding/json sorts map keys, so two orderings hash identically
	a := map[string]interface{}{"x": float64(1), "y": "two"}
	b := map[string]interface{}{"y": "two", "x": float64(1)}
	require.Equal(t, RequestHash(a), RequestHash(b))
}

func TestCheckFreshRequest(t *testing.T) {
	repo := new(MockIdempotencyRepository)
	scans := new(MockAttendanceScanRepository)
	repo.On("FindByKey", mock.Anything, mock.AnythingOfType("string")).Return(nil, repository.ErrNotFound)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*models.IdempotencyKey")).Return(nil)

	svc := NewService(repo, scans)

	result, err := svc.Check(context.Background(), "dev-1", "attendance_sync", scanRequest(), "emp-1", 0)
	require.NoError(t, err)
	require.False(t, result.IsDuplicate)
	require.Equal(t, models.IdempotencyStatusProcessing, result.Status)
	require.NotEmpty(t, result.IdempotencyKey)

	repo.AssertExpectations(t)
}

func TestCheckDuplicateReturnsStoredResponse(t *testing.T) {
	key := GenerateKey("dev-1", "attendance_sync", scanRequest(), "emp-1")
	stored := &models.IdempotencyKey{
		Key:         key,
		RequestHash: RequestHash(scanRequest()),
		Status:      models.IdempotencyStatusCompleted,
		Response:    []byte(`{"event_id":"evt-1"}`),
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	repo := new(MockIdempotencyRepository)
	scans := new(MockAttendanceScanRepository)
	repo.On("FindByKey", mock.Anything, key).Return(stored, nil)

	svc := NewService(repo, scans)

	result, err := svc.Check(context.Background(), "dev-1", "attendance_sync", scanRequest(), "emp-1", 0)
	require.NoError(t, err)
	require.True(t, result.IsDuplicate)
	require.Equal(t, models.IdempotencyStatusCompleted, result.Status)
	require.JSONEq(t, `{"event_id":"evt-1"}`, string(result.ExistingResponse))
}

func TestCheckCollisionOnDifferentContent(t *testing.T) {
	key := GenerateKey("dev-1", "attendance_sync", scanRequest(), "emp-1")
	stored := &models.IdempotencyKey{
		Key:         key,
		RequestHash: "different-content-hash",
		Status:      models.IdempotencyStatusCompleted,
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	repo := new(MockIdempotencyRepository)
	scans := new(MockAttendanceScanRepository)
	repo.On("FindByKey", mock.Anything, key).Return(stored, nil)

	svc := NewService(repo, scans)

	_, err := svc.Check(context.Background(), "dev-1", "attendance_sync", scanRequest(), "emp-1", 0)
	require.ErrorIs(t, err, ErrKeyCollision)
}

func TestCheckExpiredKeyIsReplaced(t *testing.T) {
	key := GenerateKey("dev-1", "attendance_sync", scanRequest(), "emp-1")
	expired := &models.IdempotencyKey{
		Key:         key,
		RequestHash: RequestHash(scanRequest()),
		Status:      models.IdempotencyStatusCompleted,
		ExpiresAt:   time.Now().Add(-time.Minute),
	}

	repo := new(MockIdempotencyRepository)
	scans := new(MockAttendanceScanRepository)
	repo.On("FindByKey", mock.Anything, key).Return(expired, nil)
	repo.On("DeleteByKey", mock.Anything, key).Return(nil)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*models.IdempotencyKey")).Return(nil)

	svc := NewService(repo, scans)

	result, err := svc.Check(context.Background(), "dev-1", "attendance_sync", scanRequest(), "emp-1", 0)
	require.NoError(t, err)
	require.False(t, result.IsDuplicate)

	repo.AssertExpectations(t)
}

func TestCheckLostCreateRaceResolvesAsDuplicate(t *testing.T) {
	key := GenerateKey("dev-1", "attendance_sync", scanRequest(), "emp-1")
	winner := &models.IdempotencyKey{
		Key:         key,
		RequestHash: RequestHash(scanRequest()),
		Status:      models.IdempotencyStatusProcessing,
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	repo := new(MockIdempotencyRepository)
	scans := new(MockAttendanceScanRepository)
	// First lookup misses, create loses the race, re-read finds the winner
	repo.On("FindByKey", mock.Anything, key).Return(nil, repository.ErrNotFound).Once()
	repo.On("Create", mock.Anything, mock.AnythingOfType("*models.IdempotencyKey")).Return(repository.ErrDuplicateKey)
	repo.On("FindByKey", mock.Anything, key).Return(winner, nil).Once()

	svc := NewService(repo, scans)

	result, err := svc.Check(context.Background(), "dev-1", "attendance_sync", scanRequest(), "emp-1", 0)
	require.NoError(t, err)
	require.True(t, result.IsDuplicate)
	require.Equal(t, models.IdempotencyStatusProcessing, result.Status)
}

func TestMarkCompletedStoresResponse(t *testing.T) {
	stored := &models.IdempotencyKey{
		Key:       "some-key",
		Status:    models.IdempotencyStatusProcessing,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	repo := new(MockIdempotencyRepository)
	scans := new(MockAttendanceScanRepository)
	repo.On("FindByKey", mock.Anything, "some-key").Return(stored, nil)
	repo.On("Update", mock.Anything, mock.MatchedBy(func(r *models.IdempotencyKey) bool {
		return r.Status == models.IdempotencyStatusCompleted && len(r.Response) > 0
	})).Return(nil)

	svc := NewService(repo, scans)
	svc.MarkCompleted(context.Background(), "some-key", map[string]string{"event_id": "evt-1"})

	repo.AssertExpectations(t)
}

func TestMarkFailedRecordsError(t *testing.T) {
	stored := &models.IdempotencyKey{
		Key:       "some-key",
		Status:    models.IdempotencyStatusProcessing,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	repo := new(MockIdempotencyRepository)
	scans := new(MockAttendanceScanRepository)
	repo.On("FindByKey", mock.Anything, "some-key").Return(stored, nil)
	repo.On("Update", mock.Anything, mock.MatchedBy(func(r *models.IdempotencyKey) bool {
		return r.Status == models.IdempotencyStatusFailed && r.LastError != nil && *r.LastError == "boom"
	})).Return(nil)

	svc := NewService(repo, scans)
	svc.MarkFailed(context.Background(), "some-key", errors.New("boom"))

	repo.AssertExpectations(t)
}

func TestAttendanceDeduplication(t *testing.T) {
	scannedAt := time.Now().UTC()
	payload := []byte(`{"device_id":"dev-1","user_id":"emp-1"}`)

	repo := new(MockIdempotencyRepository)
	scans := new(MockAttendanceScanRepository)
	scans.On("HasRecent", mock.Anything, "dev-1", "emp-1", mock.AnythingOfType("string"),
		scannedAt.Add(-5*time.Minute)).Return(true, nil)

	svc := NewService(repo, scans)

	require.True(t, svc.CheckAttendanceDeduplication(context.Background(), "dev-1", "emp-1", payload, scannedAt, 0))
	scans.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAttendanceDeduplicationRecordsFirstScan(t *testing.T) {
	scannedAt := time.Now().UTC()
	payload := []byte(`{"device_id":"dev-1","user_id":"emp-1"}`)

	repo := new(MockIdempotencyRepository)
	scans := new(MockAttendanceScanRepository)
	scans.On("HasRecent", mock.Anything, "dev-1", "emp-1", mock.AnythingOfType("string"),
		mock.AnythingOfType("time.Time")).Return(false, nil)
	scans.On("Create", mock.Anything, mock.MatchedBy(func(s *models.AttendanceScan) bool {
		return s.DeviceID == "dev-1" && s.EmployeeID == "emp-1" && s.PayloadHash != ""
	})).Return(nil)

	svc := NewService(repo, scans)

	require.False(t, svc.CheckAttendanceDeduplication(context.Background(), "dev-1", "emp-1", payload, scannedAt, 0))
	scans.AssertExpectations(t)
}

func TestAttendanceDeduplicationFailsOpen(t *testing.T) {
	scannedAt := time.Now().UTC()

	repo := new(MockIdempotencyRepository)
	scans := new(MockAttendanceScanRepository)
	scans.On("HasRecent", mock.Anything, "dev-1", "emp-1", mock.AnythingOfType("string"),
		mock.AnythingOfType("time.Time")).Return(false, errors.New("db down"))

	svc := NewService(repo, scans)

	// A dedup-store failure must not block the scan
	require.False(t, svc.CheckAttendanceDeduplication(context.Background(), "dev-1", "emp-1", []byte("{}"), scannedAt, 0))
}

func TestCleanupExpired(t *testing.T) {
	repo := new(MockIdempotencyRepository)
	scans := new(MockAttendanceScanRepository)
	repo.On("DeleteExpired", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(3), nil)

	svc := NewService(repo, scans)

	count, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}
