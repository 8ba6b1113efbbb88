package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arkeep-io/persona-orchestrator/internal/db"
)

// gormPersonaRepository is the GORM implementation of PersonaRepository.
type gormPersonaRepository struct {
	db *gorm.DB
}

// NewPersonaRepository returns a PersonaRepository backed by the provided *gorm.DB.
func NewPersonaRepository(database *gorm.DB) PersonaRepository {
	return &gormPersonaRepository{db: database}
}

func (r *gormPersonaRepository) Create(ctx context.Context, persona *db.Persona) error {
	if err := r.db.WithContext(ctx).Create(persona).Error; err != nil {
		return fmt.Errorf("personas: create: %w", err)
	}
	return nil
}

func (r *gormPersonaRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Persona, error) {
	var persona db.Persona
	err := r.db.WithContext(ctx).First(&persona, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("personas: get by id: %w", err)
	}
	return &persona, nil
}

func (r *gormPersonaRepository) Update(ctx context.Context, persona *db.Persona) error {
	result := r.db.WithContext(ctx).Save(persona)
	if result.Error != nil {
		return fmt.Errorf("personas: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormPersonaRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Persona{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("personas: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormPersonaRepository) List(ctx context.Context, projectID string, opts ListOptions) ([]db.Persona, int64, error) {
	var personas []db.Persona
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Persona{}).
		Where("project_id = ?", projectID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("personas: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&personas).Error; err != nil {
		return nil, 0, fmt.Errorf("personas: list: %w", err)
	}

	return personas, total, nil
}

// ListEnabled returns every enabled persona for a project, unpaginated.
func (r *gormPersonaRepository) ListEnabled(ctx context.Context, projectID string) ([]db.Persona, error) {
	var personas []db.Persona
	if err := r.db.WithContext(ctx).
		Where("project_id = ? AND enabled = ?", projectID, true).
		Find(&personas).Error; err != nil {
		return nil, fmt.Errorf("personas: list enabled: %w", err)
	}
	return personas, nil
}

func (r *gormPersonaRepository) AddTool(ctx context.Context, personaID, toolID uuid.UUID) error {
	link := db.PersonaTool{PersonaID: personaID, ToolID: toolID}
	if err := r.db.WithContext(ctx).Create(&link).Error; err != nil {
		return fmt.Errorf("personas: add tool: %w", err)
	}
	return nil
}

func (r *gormPersonaRepository) RemoveTool(ctx context.Context, personaID, toolID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("persona_id = ? AND tool_id = ?", personaID, toolID).
		Delete(&db.PersonaTool{})
	if result.Error != nil {
		return fmt.Errorf("personas: remove tool: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormPersonaRepository) ListToolIDs(ctx context.Context, personaID uuid.UUID) ([]uuid.UUID, error) {
	var links []db.PersonaTool
	if err := r.db.WithContext(ctx).
		Where("persona_id = ?", personaID).
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("personas: list tool ids: %w", err)
	}
	ids := make([]uuid.UUID, len(links))
	for i, l := range links {
		ids[i] = l.ToolID
	}
	return ids, nil
}

// AdjustBudgetSpent atomically adds delta to budget_spent_usd via a SQL
// expression rather than a read-modify-write, so concurrent completions of
// executions belonging to the same persona never lose an update.
func (r *gormPersonaRepository) AdjustBudgetSpent(ctx context.Context, id uuid.UUID, delta float64) error {
	result := r.db.WithContext(ctx).
		Model(&db.Persona{}).
		Where("id = ?", id).
		Update("budget_spent_usd", gorm.Expr("budget_spent_usd + ?", delta))
	if result.Error != nil {
		return fmt.Errorf("personas: adjust budget spent: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
