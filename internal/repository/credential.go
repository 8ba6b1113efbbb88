package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arkeep-io/persona-orchestrator/internal/db"
)

type gormCredentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository returns a CredentialRepository backed by the
// provided *gorm.DB. Secret encryption/decryption happens transparently via
// db.EncryptedString's Value/Scan — callers of this repository never see
// ciphertext.
func NewCredentialRepository(database *gorm.DB) CredentialRepository {
	return &gormCredentialRepository{db: database}
}

func (r *gormCredentialRepository) Create(ctx context.Context, credential *db.Credential) error {
	if err := r.db.WithContext(ctx).Create(credential).Error; err != nil {
		return fmt.Errorf("credentials: create: %w", err)
	}
	return nil
}

func (r *gormCredentialRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Credential, error) {
	var credential db.Credential
	err := r.db.WithContext(ctx).First(&credential, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("credentials: get by id: %w", err)
	}
	return &credential, nil
}

func (r *gormCredentialRepository) Update(ctx context.Context, credential *db.Credential) error {
	result := r.db.WithContext(ctx).Save(credential)
	if result.Error != nil {
		return fmt.Errorf("credentials: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormCredentialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Credential{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("credentials: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormCredentialRepository) ListByPersona(ctx context.Context, personaID uuid.UUID) ([]db.Credential, error) {
	var credentials []db.Credential
	if err := r.db.WithContext(ctx).
		Where("persona_id = ?", personaID).
		Find(&credentials).Error; err != nil {
		return nil, fmt.Errorf("credentials: list by persona: %w", err)
	}
	return credentials, nil
}
