package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"example.com/afms/internal/models"
)

// RuleRepository defines storage access for business rules
type RuleRepository interface {
	// FindActive returns active rules for a category that are valid at the
	// given instant, highest priority first.
	FindActive(ctx context.Context, category string, at time.Time) ([]models.Rule, error)
}

// RuleExecutionLogRepository defines storage for rule execution records
type RuleExecutionLogRepository interface {
	Create(ctx context.Context, log *models.RuleExecutionLog) error
}

type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) FindActive(ctx context.Context, category string, at time.Time) ([]models.Rule, error) {
	var rules []models.Rule
	err := r.db.WithContext(ctx).
		Where("category = ? AND is_active = ?", category, true).
		Where("valid_from IS NULL OR valid_from <= ?", at).
		Where("valid_to IS NULL OR valid_to >= ?", at).
		Order("priority DESC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

type ruleExecutionLogRepository struct {
	db *gorm.DB
}

// NewRuleExecutionLogRepository creates a new rule execution log repository
func NewRuleExecutionLogRepository(db *gorm.DB) RuleExecutionLogRepository {
	return &ruleExecutionLogRepository{db: db}
}

func (r *ruleExecutionLogRepository) Create(ctx context.Context, log *models.RuleExecutionLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}
