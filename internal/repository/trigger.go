package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arkeep-io/persona-orchestrator/internal/db"
)

type gormTriggerRepository struct {
	db *gorm.DB
}

// NewTriggerRepository returns a TriggerRepository backed by the provided *gorm.DB.
func NewTriggerRepository(database *gorm.DB) TriggerRepository {
	return &gormTriggerRepository{db: database}
}

func (r *gormTriggerRepository) Create(ctx context.Context, trigger *db.Trigger) error {
	if err := r.db.WithContext(ctx).Create(trigger).Error; err != nil {
		return fmt.Errorf("triggers: create: %w", err)
	}
	return nil
}

func (r *gormTriggerRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Trigger, error) {
	var trigger db.Trigger
	err := r.db.WithContext(ctx).First(&trigger, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("triggers: get by id: %w", err)
	}
	return &trigger, nil
}

func (r *gormTriggerRepository) Update(ctx context.Context, trigger *db.Trigger) error {
	result := r.db.WithContext(ctx).Save(trigger)
	if result.Error != nil {
		return fmt.Errorf("triggers: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormTriggerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Trigger{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("triggers: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormTriggerRepository) List(ctx context.Context, projectID string, opts ListOptions) ([]db.Trigger, int64, error) {
	var triggers []db.Trigger
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Trigger{}).
		Where("project_id = ?", projectID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("triggers: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&triggers).Error; err != nil {
		return nil, 0, fmt.Errorf("triggers: list: %w", err)
	}

	return triggers, total, nil
}

// ListDue returns every enabled trigger whose type is not "polling" and
// whose nextTriggerAt is at or before asOf. Polling triggers are excluded
// here because they are driven by an external check, not a schedule.
func (r *gormTriggerRepository) ListDue(ctx context.Context, asOf time.Time) ([]db.Trigger, error) {
	var triggers []db.Trigger
	if err := r.db.WithContext(ctx).
		Where("enabled = ? AND trigger_type <> ? AND next_trigger_at IS NOT NULL AND next_trigger_at <= ?", true, "polling", asOf).
		Find(&triggers).Error; err != nil {
		return nil, fmt.Errorf("triggers: list due: %w", err)
	}
	return triggers, nil
}

func (r *gormTriggerRepository) UpdateSchedule(ctx context.Context, id uuid.UUID, lastTriggeredAt, nextTriggerAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.Trigger{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_triggered_at": lastTriggeredAt,
			"next_trigger_at":   nextTriggerAt,
		})
	if result.Error != nil {
		return fmt.Errorf("triggers: update schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
