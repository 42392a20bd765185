package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/gatekeeper/internal/models"
	apperrors "github.com/charlesng35/gatekeeper/pkg/errors"
)

// ErrOverrideNotFound indicates an override id referenced by a removal does not exist.
var ErrOverrideNotFound = apperrors.NewNotFound("Override")

// OverrideStore persists per-user Grant/Deny overrides. It implements
// authz.OverrideStore.
type OverrideStore struct {
	db *gorm.DB
}

// NewOverrideStore constructs an OverrideStore using the provided database handle.
func NewOverrideStore(db *gorm.DB) (*OverrideStore, error) {
	if db == nil {
		return nil, errors.New("override store: db is required")
	}
	return &OverrideStore{db: db}, nil
}

// ForUser returns every override recorded for a user, including expired ones.
// Expiry is applied at read time by the calculator, not here.
func (s *OverrideStore) ForUser(ctx context.Context, userID string) ([]models.UserPermission, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var overrides []models.UserPermission
	err := s.db.WithContext(ctx).
		Preload("Permission").
		Where("user_id = ?", userID).
		Find(&overrides).Error
	if err != nil {
		return nil, fmt.Errorf("override store: overrides for user: %w", err)
	}
	return overrides, nil
}

// Add inserts one override.
func (s *OverrideStore) Add(ctx context.Context, override *models.UserPermission) error {
	ctx = ensureContext(ctx)

	if override == nil {
		return apperrors.NewBadRequest("override is required")
	}
	if !override.State.Valid() {
		return apperrors.NewBadRequest("override state must be grant or deny")
	}

	if err := s.db.WithContext(ctx).Create(override).Error; err != nil {
		if isUniqueConstraintError(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("override store: add override: %w", err)
	}
	return nil
}

// Update persists changes to an existing override.
func (s *OverrideStore) Update(ctx context.Context, override *models.UserPermission) error {
	ctx = ensureContext(ctx)

	if override == nil || strings.TrimSpace(override.ID) == "" {
		return apperrors.NewBadRequest("override id is required")
	}
	if !override.State.Valid() {
		return apperrors.NewBadRequest("override state must be grant or deny")
	}

	if err := s.db.WithContext(ctx).Save(override).Error; err != nil {
		return fmt.Errorf("override store: update override: %w", err)
	}
	return nil
}

// BulkAdd inserts a batch of overrides in one transaction. Either every
// override lands or none do.
func (s *OverrideStore) BulkAdd(ctx context.Context, overrides []models.UserPermission) error {
	ctx = ensureContext(ctx)

	if len(overrides) == 0 {
		return nil
	}
	for i := range overrides {
		if !overrides[i].State.Valid() {
			return apperrors.NewBadRequest("override state must be grant or deny")
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range overrides {
			if err := tx.Create(&overrides[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("override store: bulk add overrides: %w", err)
	}
	return nil
}

// Remove deletes an override by id.
func (s *OverrideStore) Remove(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return apperrors.NewBadRequest("override id is required")
	}

	result := s.db.WithContext(ctx).Delete(&models.UserPermission{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("override store: remove override: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOverrideNotFound
	}
	return nil
}
