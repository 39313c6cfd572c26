package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/afms/internal/models"
)

// ReadModelRepository defines storage for denormalized projections
type ReadModelRepository interface {
	Upsert(ctx context.Context, model *models.ReadModel) error
	FindByTypeAndID(ctx context.Context, modelType, modelID string) (*models.ReadModel, error)
	FindByType(ctx context.Context, modelType string, limit int) ([]models.ReadModel, error)
	DeleteByType(ctx context.Context, modelType string) error
}

type readModelRepository struct {
	db *gorm.DB
}

// NewReadModelRepository creates a new read model repository
func NewReadModelRepository(db *gorm.DB) ReadModelRepository {
	return &readModelRepository{db: db}
}

func (r *readModelRepository) Upsert(ctx context.Context, model *models.ReadModel) error {
	model.LastUpdated = time.Now()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "model_type"}, {Name: "model_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "version", "last_updated"}),
		}).
		Create(model).Error
}

func (r *readModelRepository) FindByTypeAndID(ctx context.Context, modelType, modelID string) (*models.ReadModel, error) {
	var model models.ReadModel
	err := r.db.WithContext(ctx).
		Where("model_type = ? AND model_id = ?", modelType, modelID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &model, nil
}

func (r *readModelRepository) FindByType(ctx context.Context, modelType string, limit int) ([]models.ReadModel, error) {
	var list []models.ReadModel
	err := r.db.WithContext(ctx).
		Where("model_type = ?", modelType).
		Order("model_id ASC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *readModelRepository) DeleteByType(ctx context.Context, modelType string) error {
	return r.db.WithContext(ctx).
		Where("model_type = ?", modelType).
		Delete(&models.ReadModel{}).Error
}
