package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/gatekeeper/internal/authz"
	"github.com/charlesng35/gatekeeper/internal/models"
	apperrors "github.com/charlesng35/gatekeeper/pkg/errors"
	"github.com/charlesng35/gatekeeper/pkg/logger"
	"github.com/charlesng35/gatekeeper/pkg/validator"
)

// ErrSystemRoleImmutable indicates an attempt to edit or deactivate a system role.
var ErrSystemRoleImmutable = apperrors.New("SYSTEM_ROLE_IMMUTABLE", "System roles cannot be modified", http.StatusForbidden)

// Invalidator drops cached effective sets after access-changing mutations.
// The decision engine satisfies this interface.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
	InvalidateAll(ctx context.Context) error
}

// AdminService owns role, permission, and override mutations. Every mutation
// is audited and invalidates the affected users' cached effective sets.
type AdminService struct {
	db          *gorm.DB
	roles       *RoleStore
	permissions *PermissionStore
	overrides   *OverrideStore
	audit       authz.AuditSink
	invalidator Invalidator
	log         *zap.Logger
}

// NewAdminService constructs the administration service. The invalidator is
// optional; without it mutations rely on the cache TTL alone.
func NewAdminService(db *gorm.DB, roles *RoleStore, permissions *PermissionStore, overrides *OverrideStore, audit authz.AuditSink, invalidator Invalidator) (*AdminService, error) {
	if db == nil {
		return nil, errors.New("admin service: db is required")
	}
	if roles == nil {
		return nil, errors.New("admin service: role store is required")
	}
	if permissions == nil {
		return nil, errors.New("admin service: permission store is required")
	}
	if overrides == nil {
		return nil, errors.New("admin service: override store is required")
	}

	return &AdminService{
		db:          db,
		roles:       roles,
		permissions: permissions,
		overrides:   overrides,
		audit:       audit,
		invalidator: invalidator,
		log:         logger.WithModule("admin"),
	}, nil
}

// CreateRoleInput carries the fields accepted when creating a role.
type CreateRoleInput struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=500"`
}

// CreateRole inserts a new non-system role.
func (s *AdminService) CreateRole(ctx context.Context, input CreateRoleInput, actor string) (*models.Role, error) {
	ctx = ensureContext(ctx)

	input.Name = strings.TrimSpace(input.Name)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	role := models.Role{
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		IsActive:    true,
	}
	if err := s.db.WithContext(ctx).Create(&role).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict
		}
		return nil, fmt.Errorf("admin service: create role: %w", err)
	}

	recordAudit(s.audit, ctx, authz.AuditEntry{
		Event:       models.EventRoleCreated,
		RoleID:      &role.ID,
		PerformedBy: actor,
		NewValue:    role,
	})
	return &role, nil
}

// UpdateRoleInput carries the fields accepted when updating a role. Nil
// fields are left unchanged.
type UpdateRoleInput struct {
	Name        *string `json:"name" validate:"omitempty,min=2,max=64"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	IsActive    *bool   `json:"is_active"`
}

// UpdateRole applies partial changes to a non-system role. Toggling the
// active flag changes every member's access, so members are invalidated.
func (s *AdminService) UpdateRole(ctx context.Context, roleID string, input UpdateRoleInput, actor string) (*models.Role, error) {
	ctx = ensureContext(ctx)

	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	role, err := s.roles.RoleByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, ErrSystemRoleImmutable
	}

	before := *role
	activeChanged := false
	if input.Name != nil {
		role.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		role.Description = strings.TrimSpace(*input.Description)
	}
	if input.IsActive != nil && role.IsActive != *input.IsActive {
		role.IsActive = *input.IsActive
		activeChanged = true
	}

	if err := s.db.WithContext(ctx).Save(role).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict
		}
		return nil, fmt.Errorf("admin service: update role: %w", err)
	}

	recordAudit(s.audit, ctx, authz.AuditEntry{
		Event:       models.EventRoleUpdated,
		RoleID:      &role.ID,
		PerformedBy: actor,
		OldValue:    before,
		NewValue:    role,
	})

	if activeChanged {
		s.invalidateRoleMembers(ctx, role.ID)
	}
	return role, nil
}

// DeactivateRole soft-disables a non-system role and invalidates its members.
func (s *AdminService) DeactivateRole(ctx context.Context, roleID, actor, reason string) error {
	ctx = ensureContext(ctx)

	role, err := s.roles.RoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRoleImmutable
	}
	if !role.IsActive {
		return nil
	}

	if err := s.db.WithContext(ctx).Model(role).Update("is_active", false).Error; err != nil {
		return fmt.Errorf("admin service: deactivate role: %w", err)
	}

	recordAudit(s.audit, ctx, authz.AuditEntry{
		Event:       models.EventRoleDeactivated,
		RoleID:      &role.ID,
		PerformedBy: actor,
		Reason:      reason,
	})

	s.invalidateRoleMembers(ctx, role.ID)
	return nil
}

// AssignRole adds a user to a role and invalidates that user's cache.
func (s *AdminService) AssignRole(ctx context.Context, userID, roleID, actor string) error {
	ctx = ensureContext(ctx)

	role, err := s.roles.RoleByID(ctx, roleID)
	if err != nil {
		return err
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", strings.TrimSpace(userID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return authz.ErrUserNotFound
		}
		return fmt.Errorf("admin service: load user: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&user).Association("Roles").Append(role); err != nil {
		return fmt.Errorf("admin service: assign role: %w", err)
	}

	recordAudit(s.audit, ctx, authz.AuditEntry{
		Event:       models.EventRoleUpdated,
		UserID:      &user.ID,
		RoleID:      &role.ID,
		PerformedBy: actor,
		Reason:      "role assigned",
	})

	s.invalidateUser(ctx, user.ID)
	return nil
}

// RevokeRole removes a user from a role and invalidates that user's cache.
func (s *AdminService) RevokeRole(ctx context.Context, userID, roleID, actor string) error {
	ctx = ensureContext(ctx)

	role, err := s.roles.RoleByID(ctx, roleID)
	if err != nil {
		return err
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", strings.TrimSpace(userID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return authz.ErrUserNotFound
		}
		return fmt.Errorf("admin service: load user: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&user).Association("Roles").Delete(role); err != nil {
		return fmt.Errorf("admin service: revoke role: %w", err)
	}

	recordAudit(s.audit, ctx, authz.AuditEntry{
		Event:       models.EventRoleUpdated,
		UserID:      &user.ID,
		RoleID:      &role.ID,
		PerformedBy: actor,
		Reason:      "role revoked",
	})

	s.invalidateUser(ctx, user.ID)
	return nil
}

// CreatePermissionInput carries the fields accepted when creating a permission.
type CreatePermissionInput struct {
	Resource    string  `json:"resource" validate:"required,min=2,max=64"`
	Action      string  `json:"action" validate:"required,min=2,max=64"`
	Category    string  `json:"category" validate:"max=64"`
	Description string  `json:"description" validate:"max=500"`
	ParentID    *string `json:"parent_id"`
}

// CreatePermission inserts a new catalog entry. A parent, when named, must
// already exist; hierarchy problems beyond that are the validator's concern.
func (s *AdminService) CreatePermission(ctx context.Context, input CreatePermissionInput, actor string) (*models.Permission, error) {
	ctx = ensureContext(ctx)

	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	parentID := trimIDPtr(input.ParentID)
	if parentID != nil {
		if _, err := s.permissions.ByID(ctx, *parentID); err != nil {
			return nil, err
		}
	}

	permission := models.Permission{
		Resource:    strings.TrimSpace(input.Resource),
		Action:      strings.TrimSpace(input.Action),
		Category:    strings.TrimSpace(input.Category),
		Description: strings.TrimSpace(input.Description),
		ParentID:    parentID,
		IsActive:    true,
	}
	if err := s.db.WithContext(ctx).Create(&permission).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict
		}
		return nil, fmt.Errorf("admin service: create permission: %w", err)
	}

	recordAudit(s.audit, ctx, authz.AuditEntry{
		Event:        models.EventPermissionCreated,
		PermissionID: &permission.ID,
		PerformedBy:  actor,
		NewValue:     permission,
	})

	// a new permission may already be assigned via seeds or parents, so the
	// whole cache generation rotates
	s.invalidateAll(ctx)
	return &permission, nil
}

// DeactivatePermission soft-disables a catalog entry. Assignments and
// overrides referencing it stay in place; the calculator ignores inactive
// grants at read time.
func (s *AdminService) DeactivatePermission(ctx context.Context, permissionID, actor, reason string) error {
	ctx = ensureContext(ctx)

	permission, err := s.permissions.ByID(ctx, permissionID)
	if err != nil {
		return err
	}
	if !permission.IsActive {
		return nil
	}

	if err := s.db.WithContext(ctx).Model(permission).Update("is_active", false).Error; err != nil {
		return fmt.Errorf("admin service: deactivate permission: %w", err)
	}

	recordAudit(s.audit, ctx, authz.AuditEntry{
		Event:        models.EventPermissionDeactivated,
		PermissionID: &permission.ID,
		PerformedBy:  actor,
		Reason:       reason,
	})

	s.invalidateAll(ctx)
	return nil
}

// SetOverrideInput carries the fields accepted when recording an override.
type SetOverrideInput struct {
	PermissionID string               `json:"permission_id" validate:"required"`
	State        models.OverrideState `json:"state" validate:"required,oneof=grant deny"`
	Reason       string               `json:"reason" validate:"max=500"`
	ExpiresAt    *time.Time           `json:"expires_at"`
}

// SetOverride records a Grant/Deny override for a user. A prior override for
// the same (user, permission) pair is superseded in place rather than
// duplicated.
func (s *AdminService) SetOverride(ctx context.Context, userID string, input SetOverrideInput, actor string) (*models.UserPermission, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	if _, err := s.permissions.ByID(ctx, input.PermissionID); err != nil {
		return nil, err
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authz.ErrUserNotFound
		}
		return nil, fmt.Errorf("admin service: load user: %w", err)
	}

	var existing models.UserPermission
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND permission_id = ?", userID, input.PermissionID).
		First(&existing).Error

	switch {
	case err == nil:
		before := existing
		existing.State = input.State
		existing.Reason = strings.TrimSpace(input.Reason)
		existing.ExpiresAt = input.ExpiresAt
		existing.UpdatedBy = actor
		if err := s.overrides.Update(ctx, &existing); err != nil {
			return nil, err
		}
		recordAudit(s.audit, ctx, authz.AuditEntry{
			Event:        models.EventOverrideUpdated,
			UserID:       &userID,
			PermissionID: &existing.PermissionID,
			PerformedBy:  actor,
			Reason:       existing.Reason,
			OldValue:     before,
			NewValue:     existing,
		})
		s.invalidateUser(ctx, userID)
		return &existing, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		override := models.UserPermission{
			UserID:       userID,
			PermissionID: strings.TrimSpace(input.PermissionID),
			State:        input.State,
			Reason:       strings.TrimSpace(input.Reason),
			ExpiresAt:    input.ExpiresAt,
			CreatedBy:    actor,
			UpdatedBy:    actor,
		}
		if err := s.overrides.Add(ctx, &override); err != nil {
			return nil, err
		}
		recordAudit(s.audit, ctx, authz.AuditEntry{
			Event:        models.EventOverrideCreated,
			UserID:       &userID,
			PermissionID: &override.PermissionID,
			PerformedBy:  actor,
			Reason:       override.Reason,
			NewValue:     override,
		})
		s.invalidateUser(ctx, userID)
		return &override, nil

	default:
		return nil, fmt.Errorf("admin service: load override: %w", err)
	}
}

// RemoveOverride deletes an override and invalidates the owning user's cache.
func (s *AdminService) RemoveOverride(ctx context.Context, overrideID, actor, reason string) error {
	ctx = ensureContext(ctx)

	overrideID = strings.TrimSpace(overrideID)
	if overrideID == "" {
		return apperrors.NewBadRequest("override id is required")
	}

	var override models.UserPermission
	if err := s.db.WithContext(ctx).First(&override, "id = ?", overrideID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOverrideNotFound
		}
		return fmt.Errorf("admin service: load override: %w", err)
	}

	if err := s.overrides.Remove(ctx, overrideID); err != nil {
		return err
	}

	recordAudit(s.audit, ctx, authz.AuditEntry{
		Event:        models.EventOverrideRemoved,
		UserID:       &override.UserID,
		PermissionID: &override.PermissionID,
		PerformedBy:  actor,
		Reason:       reason,
		OldValue:     override,
	})

	s.invalidateUser(ctx, override.UserID)
	return nil
}

// invalidateRoleMembers drops the cached sets of every member of a role,
// falling back to a full flush when membership cannot be listed.
func (s *AdminService) invalidateRoleMembers(ctx context.Context, roleID string) {
	if s.invalidator == nil {
		return
	}

	members, err := s.roles.MemberIDs(ctx, roleID)
	if err != nil {
		s.log.Warn("member lookup failed, flushing all cached sets",
			zap.String("role_id", roleID), zap.Error(err))
		s.invalidateAll(ctx)
		return
	}
	for _, userID := range members {
		s.invalidateUser(ctx, userID)
	}
}

func (s *AdminService) invalidateUser(ctx context.Context, userID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, userID); err != nil {
		s.log.Warn("cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *AdminService) invalidateAll(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateAll(ctx); err != nil {
		s.log.Warn("cache flush failed", zap.Error(err))
	}
}
