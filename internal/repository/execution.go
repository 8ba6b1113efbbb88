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

type gormExecutionRepository struct {
	db *gorm.DB
}

// NewExecutionRepository returns an ExecutionRepository backed by the
// provided *gorm.DB.
func NewExecutionRepository(database *gorm.DB) ExecutionRepository {
	return &gormExecutionRepository{db: database}
}

func (r *gormExecutionRepository) Create(ctx context.Context, execution *db.ExecutionRecord) error {
	if err := r.db.WithContext(ctx).Create(execution).Error; err != nil {
		return fmt.Errorf("executions: create: %w", err)
	}
	return nil
}

func (r *gormExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.ExecutionRecord, error) {
	var execution db.ExecutionRecord
	err := r.db.WithContext(ctx).First(&execution, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("executions: get by id: %w", err)
	}
	return &execution, nil
}

func (r *gormExecutionRepository) Update(ctx context.Context, execution *db.ExecutionRecord) error {
	result := r.db.WithContext(ctx).Save(execution)
	if result.Error != nil {
		return fmt.Errorf("executions: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormExecutionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&db.ExecutionRecord{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("executions: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendOutput appends a chunk to output_data via a SQL-side string
// concatenation so concurrent stdout and stderr frames for the same
// execution never clobber each other with a stale read-modify-write.
func (r *gormExecutionRepository) AppendOutput(ctx context.Context, id uuid.UUID, chunk string) error {
	result := r.db.WithContext(ctx).
		Model(&db.ExecutionRecord{}).
		Where("id = ?", id).
		Update("output_data", gorm.Expr("output_data || ?", chunk))
	if result.Error != nil {
		return fmt.Errorf("executions: append output: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormExecutionRepository) List(ctx context.Context, projectID string, opts ListOptions) ([]db.ExecutionRecord, int64, error) {
	var executions []db.ExecutionRecord
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.ExecutionRecord{}).
		Where("project_id = ?", projectID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("executions: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&executions).Error; err != nil {
		return nil, 0, fmt.Errorf("executions: list: %w", err)
	}

	return executions, total, nil
}

func (r *gormExecutionRepository) CountRunning(ctx context.Context, personaID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.ExecutionRecord{}).
		Where("persona_id = ? AND status = ?", personaID, "running").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("executions: count running: %w", err)
	}
	return count, nil
}

func (r *gormExecutionRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{"completed", "failed", "cancelled"}, cutoff).
		Delete(&db.ExecutionRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("executions: delete terminal older than: %w", result.Error)
	}
	return result.RowsAffected, nil
}
