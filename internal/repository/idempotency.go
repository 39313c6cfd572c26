package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/afms/internal/models"
)

// IdempotencyRepository defines storage for idempotency key records
type IdempotencyRepository interface {
	Create(ctx context.Context, record *models.IdempotencyKey) error
	FindByKey(ctx context.Context, key string) (*models.IdempotencyKey, error)
	Update(ctx context.Context, record *models.IdempotencyKey) error
	DeleteByKey(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AttendanceScanRepository defines storage for the attendance dedup guard
type AttendanceScanRepository interface {
	Create(ctx context.Context, scan *models.AttendanceScan) error
	HasRecent(ctx context.Context, deviceID, employeeID, payloadHash string, since time.Time) (bool, error)
}

type idempotencyRepository struct {
	db *gorm.DB
}

// NewIdempotencyRepository creates a new idempotency repository
func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

func (r *idempotencyRepository) Create(ctx context.Context, record *models.IdempotencyKey) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *idempotencyRepository) FindByKey(ctx context.Context, key string) (*models.IdempotencyKey, error) {
	var record models.IdempotencyKey
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *idempotencyRepository) Update(ctx context.Context, record *models.IdempotencyKey) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *idempotencyRepository) DeleteByKey(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("key = ?", key).Delete(&models.IdempotencyKey{}).Error
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.IdempotencyKey{})
	return res.RowsAffected, res.Error
}

type attendanceScanRepository struct {
	db *gorm.DB
}

// NewAttendanceScanRepository creates a new attendance scan repository
func NewAttendanceScanRepository(db *gorm.DB) AttendanceScanRepository {
	return &attendanceScanRepository{db: db}
}

func (r *attendanceScanRepository) Create(ctx context.Context, scan *models.AttendanceScan) error {
	return r.db.WithContext(ctx).Create(scan).Error
}

func (r *attendanceScanRepository) HasRecent(ctx context.Context, deviceID, employeeID, payloadHash string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.AttendanceScan{}).
		Where("device_id = ? AND employee_id = ? AND payload_hash = ? AND scanned_at >= ?",
			deviceID, employeeID, payloadHash, since).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
