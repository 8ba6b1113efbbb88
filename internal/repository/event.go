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

type gormEventRepository struct {
	db *gorm.DB
}

// NewEventRepository returns an EventRepository backed by the provided *gorm.DB.
func NewEventRepository(database *gorm.DB) EventRepository {
	return &gormEventRepository{db: database}
}

func (r *gormEventRepository) Create(ctx context.Context, event *db.Event) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("events: create: %w", err)
	}
	return nil
}

func (r *gormEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Event, error) {
	var event db.Event
	err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("events: get by id: %w", err)
	}
	return &event, nil
}

// ClaimPending selects up to limit pending events ordered oldest-first and
// flips them to "processing" inside a transaction, so two overlapping Event
// Processor ticks (or two orchestrator instances) never claim the same row.
// An empty projectID claims pending events across every project, which is
// how the Event Processor tick drains the event store — §4.6 step 1 names
// no project scope, unlike the per-event subscription match in step 2.
func (r *gormEventRepository) ClaimPending(ctx context.Context, projectID string, limit int) ([]db.Event, error) {
	var claimed []db.Event

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", "pending")
		if projectID != "" {
			q = q.Where("project_id = ?", projectID)
		}

		var candidates []db.Event
		if err := q.
			Order("created_at ASC").
			Limit(limit).
			Find(&candidates).Error; err != nil {
			return fmt.Errorf("select candidates: %w", err)
		}
		if len(candidates) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}

		result := tx.Model(&db.Event{}).
			Where("id IN ? AND status = ?", ids, "pending").
			Update("status", "processing")
		if result.Error != nil {
			return fmt.Errorf("claim candidates: %w", result.Error)
		}

		claimed = candidates
		for i := range claimed {
			claimed[i].Status = "processing"
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("events: claim pending: %w", err)
	}

	return claimed, nil
}

func (r *gormEventRepository) Finalize(ctx context.Context, id uuid.UUID, status string, processedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.Event{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"processed_at": processedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("events: finalize: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormEventRepository) List(ctx context.Context, projectID string, opts ListOptions) ([]db.Event, int64, error) {
	var events []db.Event
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Event{}).
		Where("project_id = ?", projectID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("events: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("events: list: %w", err)
	}

	return events, total, nil
}
