package projections

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/afms/internal/domain"
	"example.com/afms/internal/models"
	"example.com/afms/internal/repository"
)

type memoryReadModelRepository struct {
	rows map[string]*models.ReadModel
}

func newMemoryRepo() *memoryReadModelRepository {
	return &memoryReadModelRepository{rows: make(map[string]*models.ReadModel)}
}

func (r *memoryReadModelRepository) key(modelType, modelID string) string {
	return modelType + "/" + modelID
}

func (r *memoryReadModelRepository) Upsert(ctx context.Context, model *models.ReadModel) error {
	copied := *model
	r.rows[r.key(model.ModelType, model.ModelID)] = &copied
	return nil
}

func (r *memoryReadModelRepository) FindByTypeAndID(ctx context.Context, modelType, modelID string) (*models.ReadModel, error) {
	model, ok := r.rows[r.key(modelType, modelID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *model
	return &copied, nil
}

func (r *memoryReadModelRepository) FindByType(ctx context.Context, modelType string, limit int) ([]models.ReadModel, error) {
	var out []models.ReadModel
	for _, model := range r.rows {
		if model.ModelType == modelType && len(out) < limit {
			out = append(out, *model)
		}
	}
	return out, nil
}

func (r *memoryReadModelRepository) DeleteByType(ctx context.Context, modelType string) error {
	for key, model := range r.rows {
		if model.ModelType == modelType {
			delete(r.rows, key)
		}
	}
	return nil
}

func attendanceEvent(t *testing.T, employeeID, deviceID string, scannedAt time.Time, inOutMode, lateMinutes int) domain.Event {
	t.Helper()
	data, err := json.Marshal(domain.AttendanceRecordedEvent{
		EmployeeID:  employeeID,
		DeviceID:    deviceID,
		ScannedAt:   scannedAt,
		InOutMode:   inOutMode,
		LateMinutes: lateMinutes,
	})
	require.NoError(t, err)
	return domain.Event{
		ID:          "evt-" + scannedAt.Format("150405"),
		AggregateID: employeeID,
		Type:        domain.AttendanceRecorded,
		Version:     1,
		Timestamp:   scannedAt,
		Data:        data,
	}
}

func loadSummary(t *testing.T, repo *memoryReadModelRepository, employeeID string, day time.Time) AttendanceSummary {
	t.Helper()
	model, err := repo.FindByTypeAndID(context.Background(), AttendanceSummaryModelType, SummaryID(employeeID, day))
	require.NoError(t, err)
	var summary AttendanceSummary
	require.NoError(t, json.Unmarshal(model.Data, &summary))
	return summary
}

func TestApplyFoldsDayIntoSummary(t *testing.T) {
	repo := newMemoryRepo()
	p := NewAttendanceSummaryProjection(repo, nil, nil)
	day := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	// Morning in (late), lunch out, afternoon in, evening out
	require.NoError(t, p.Apply(context.Background(), attendanceEvent(t, "emp-1", "dev-1", day.Add(9*time.Hour+20*time.Minute), 0, 20)))
	require.NoError(t, p.Apply(context.Background(), attendanceEvent(t, "emp-1", "dev-1", day.Add(12*time.Hour), 1, 0)))
	require.NoError(t, p.Apply(context.Background(), attendanceEvent(t, "emp-1", "dev-2", day.Add(13*time.Hour), 0, 0)))
	require.NoError(t, p.Apply(context.Background(), attendanceEvent(t, "emp-1", "dev-1", day.Add(17*time.Hour+30*time.Minute), 1, 0)))

	summary := loadSummary(t, repo, "emp-1", day)
	require.Equal(t, 4, summary.ScanCount)
	require.Equal(t, day.Add(9*time.Hour+20*time.Minute), summary.FirstIn.UTC())
	require.Equal(t, day.Add(17*time.Hour+30*time.Minute), summary.LastOut.UTC())
	// Lateness is the worst in-scan of the day, not overwritten by later ones
	require.Equal(t, 20, summary.LateMinutes)
	require.ElementsMatch(t, []string{"dev-1", "dev-2"}, summary.Devices)
}

func TestApplySeparatesDaysAndEmployees(t *testing.T) {
	repo := newMemoryRepo()
	p := NewAttendanceSummaryProjection(repo, nil, nil)
	day1 := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	require.NoError(t, p.Apply(context.Background(), attendanceEvent(t, "emp-1", "dev-1", day1.Add(9*time.Hour), 0, 0)))
	require.NoError(t, p.Apply(context.Background(), attendanceEvent(t, "emp-1", "dev-1", day2.Add(9*time.Hour), 0, 0)))
	require.NoError(t, p.Apply(context.Background(), attendanceEvent(t, "emp-2", "dev-1", day1.Add(9*time.Hour), 0, 0)))

	require.Equal(t, 1, loadSummary(t, repo, "emp-1", day1).ScanCount)
	require.Equal(t, 1, loadSummary(t, repo, "emp-1", day2).ScanCount)
	require.Equal(t, 1, loadSummary(t, repo, "emp-2", day1).ScanCount)
}

func TestApplyIsIdempotentUnderReplayFromScratch(t *testing.T) {
	day := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	events := []domain.Event{
		attendanceEvent(t, "emp-1", "dev-1", day.Add(9*time.Hour), 0, 5),
		attendanceEvent(t, "emp-1", "dev-1", day.Add(17*time.Hour), 1, 0),
	}

	first := newMemoryRepo()
	p1 := NewAttendanceSummaryProjection(first, nil, nil)
	for _, e := range events {
		require.NoError(t, p1.Apply(context.Background(), e))
	}

	second := newMemoryRepo()
	p2 := NewAttendanceSummaryProjection(second, nil, nil)
	for _, e := range events {
		require.NoError(t, p2.Apply(context.Background(), e))
	}

	a := loadSummary(t, first, "emp-1", day)
	b := loadSummary(t, second, "emp-1", day)
	require.Equal(t, a, b)
}

func TestSummaryID(t *testing.T) {
	day := time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC)
	require.Equal(t, "emp-1:2026-08-31", SummaryID("emp-1", day))
}
