package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/gatekeeper/internal/authz"
	"github.com/charlesng35/gatekeeper/internal/models"
	apperrors "github.com/charlesng35/gatekeeper/pkg/errors"
)

// PermissionStore loads the permission catalog from the database. It
// implements authz.PermissionStore.
type PermissionStore struct {
	db *gorm.DB
}

// NewPermissionStore constructs a PermissionStore using the provided database handle.
func NewPermissionStore(db *gorm.DB) (*PermissionStore, error) {
	if db == nil {
		return nil, errors.New("permission store: db is required")
	}
	return &PermissionStore{db: db}, nil
}

// All returns every permission in the catalog, active or not. The catalog
// index decides what inactivity means per operation.
func (s *PermissionStore) All(ctx context.Context) ([]models.Permission, error) {
	ctx = ensureContext(ctx)

	var permissions []models.Permission
	if err := s.db.WithContext(ctx).Order("resource, action").Find(&permissions).Error; err != nil {
		return nil, fmt.Errorf("permission store: list permissions: %w", err)
	}
	return permissions, nil
}

// ByID returns the permission with the supplied id.
func (s *PermissionStore) ByID(ctx context.Context, id string) (*models.Permission, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewBadRequest("permission id is required")
	}

	var permission models.Permission
	if err := s.db.WithContext(ctx).First(&permission, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authz.ErrPermissionNotFound
		}
		return nil, fmt.Errorf("permission store: get permission: %w", err)
	}
	return &permission, nil
}

// ByIDs returns the permissions matching the supplied ids. Every id must
// resolve; a missing id fails the whole lookup so callers never apply a
// partial set.
func (s *PermissionStore) ByIDs(ctx context.Context, ids []string) ([]models.Permission, error) {
	ctx = ensureContext(ctx)

	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	var permissions []models.Permission
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&permissions).Error; err != nil {
		return nil, fmt.Errorf("permission store: get permissions: %w", err)
	}
	if len(permissions) != len(ids) {
		found := make(map[string]struct{}, len(permissions))
		for _, permission := range permissions {
			found[permission.ID] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				return nil, fmt.Errorf("permission store: %w: %s", authz.ErrPermissionNotFound, id)
			}
		}
	}
	return permissions, nil
}

// ByName returns the permission with the supplied dotted name.
func (s *PermissionStore) ByName(ctx context.Context, name string) (*models.Permission, error) {
	ctx = ensureContext(ctx)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewBadRequest("permission name is required")
	}

	var permission models.Permission
	if err := s.db.WithContext(ctx).First(&permission, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authz.ErrPermissionNotFound
		}
		return nil, fmt.Errorf("permission store: get permission by name: %w", err)
	}
	return &permission, nil
}
