package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arkeep-io/persona-orchestrator/internal/db"
)

type gormSubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository returns a SubscriptionRepository backed by the
// provided *gorm.DB.
func NewSubscriptionRepository(database *gorm.DB) SubscriptionRepository {
	return &gormSubscriptionRepository{db: database}
}

func (r *gormSubscriptionRepository) Create(ctx context.Context, sub *db.EventSubscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("subscriptions: create: %w", err)
	}
	return nil
}

func (r *gormSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.EventSubscription, error) {
	var sub db.EventSubscription
	err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("subscriptions: get by id: %w", err)
	}
	return &sub, nil
}

func (r *gormSubscriptionRepository) Update(ctx context.Context, sub *db.EventSubscription) error {
	result := r.db.WithContext(ctx).Save(sub)
	if result.Error != nil {
		return fmt.Errorf("subscriptions: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormSubscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.EventSubscription{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("subscriptions: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormSubscriptionRepository) ListEnabledByEventType(ctx context.Context, projectID, eventType string) ([]db.EventSubscription, error) {
	var subs []db.EventSubscription
	if err := r.db.WithContext(ctx).
		Where("project_id = ? AND event_type = ? AND enabled = ?", projectID, eventType, true).
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("subscriptions: list enabled by event type: %w", err)
	}
	return subs, nil
}

func (r *gormSubscriptionRepository) ListEnabledByEventTypeAnyProject(ctx context.Context, eventType string) ([]db.EventSubscription, error) {
	var subs []db.EventSubscription
	if err := r.db.WithContext(ctx).
		Where("event_type = ? AND enabled = ?", eventType, true).
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("subscriptions: list enabled by event type (any project): %w", err)
	}
	return subs, nil
}
