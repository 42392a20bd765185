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

// RoleStore loads roles and role membership from the database. It implements
// authz.RoleStore.
type RoleStore struct {
	db *gorm.DB
}

// NewRoleStore constructs a RoleStore using the provided database handle.
func NewRoleStore(db *gorm.DB) (*RoleStore, error) {
	if db == nil {
		return nil, errors.New("role store: db is required")
	}
	return &RoleStore{db: db}, nil
}

// RoleByID returns the role with the supplied id, permissions preloaded.
func (s *RoleStore) RoleByID(ctx context.Context, id string) (*models.Role, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewBadRequest("role id is required")
	}

	var role models.Role
	err := s.db.WithContext(ctx).Preload("Permissions").First(&role, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authz.ErrRoleNotFound
		}
		return nil, fmt.Errorf("role store: get role: %w", err)
	}
	return &role, nil
}

// RolesForUser returns the roles assigned to a user, permissions preloaded.
func (s *RoleStore) RolesForUser(ctx context.Context, userID string) ([]models.Role, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var roles []models.Role
	err := s.db.WithContext(ctx).
		Preload("Permissions").
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Find(&roles).Error
	if err != nil {
		return nil, fmt.Errorf("role store: roles for user: %w", err)
	}
	return roles, nil
}

// PermissionsForRole returns the permission set assigned to a role.
func (s *RoleStore) PermissionsForRole(ctx context.Context, roleID string) ([]models.Permission, error) {
	ctx = ensureContext(ctx)

	role, err := s.RoleByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return role.Permissions, nil
}

// MemberIDs returns the ids of all users assigned to a role. The cache layer
// uses this to invalidate members after a role mutation.
func (s *RoleStore) MemberIDs(ctx context.Context, roleID string) ([]string, error) {
	ctx = ensureContext(ctx)

	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, apperrors.NewBadRequest("role id is required")
	}

	var ids []string
	err := s.db.WithContext(ctx).
		Table("user_roles").
		Where("role_id = ?", roleID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("role store: member ids: %w", err)
	}
	return ids, nil
}
