package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arkeep-io/persona-orchestrator/internal/db"
)

type gormToolRepository struct {
	db *gorm.DB
}

// NewToolRepository returns a ToolRepository backed by the provided *gorm.DB.
func NewToolRepository(database *gorm.DB) ToolRepository {
	return &gormToolRepository{db: database}
}

func (r *gormToolRepository) Create(ctx context.Context, tool *db.ToolDefinition) error {
	if err := r.db.WithContext(ctx).Create(tool).Error; err != nil {
		return fmt.Errorf("tools: create: %w", err)
	}
	return nil
}

func (r *gormToolRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.ToolDefinition, error) {
	var tool db.ToolDefinition
	err := r.db.WithContext(ctx).First(&tool, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tools: get by id: %w", err)
	}
	return &tool, nil
}

func (r *gormToolRepository) Update(ctx context.Context, tool *db.ToolDefinition) error {
	result := r.db.WithContext(ctx).Save(tool)
	if result.Error != nil {
		return fmt.Errorf("tools: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormToolRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.ToolDefinition{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("tools: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormToolRepository) List(ctx context.Context, projectID string, opts ListOptions) ([]db.ToolDefinition, int64, error) {
	var tools []db.ToolDefinition
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.ToolDefinition{}).
		Where("project_id = ?", projectID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("tools: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&tools).Error; err != nil {
		return nil, 0, fmt.Errorf("tools: list: %w", err)
	}

	return tools, total, nil
}

func (r *gormToolRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]db.ToolDefinition, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tools []db.ToolDefinition
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&tools).Error; err != nil {
		return nil, fmt.Errorf("tools: list by ids: %w", err)
	}
	return tools, nil
}
