package matrix

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/gatekeeper/internal/authz"
	"github.com/charlesng35/gatekeeper/internal/models"
	apperrors "github.com/charlesng35/gatekeeper/pkg/errors"
)

// UpdateRolePermissions replaces a role's assignment set with exactly the
// supplied permissions, as one clear-then-add unit. Unknown permission ids
// reject the whole update before anything changes.
func (s *Service) UpdateRolePermissions(ctx context.Context, roleID string, permissionIDs []string, actor string) error {
	ctx = ensureContext(ctx)

	role, err := s.roles.RoleByID(ctx, roleID)
	if err != nil {
		return err
	}

	permissions, err := s.resolvePermissions(ctx, permissionIDs)
	if err != nil {
		return err
	}

	oldIDs := permissionIDList(role.Permissions)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(role).Association("Permissions").Replace(permissionSlice(permissions))
	})
	if err != nil {
		return fmt.Errorf("matrix service: update role permissions: %w", err)
	}

	s.recordAudit(ctx, authz.AuditEntry{
		Event:       models.EventRolePermissionsChanged,
		RoleID:      &role.ID,
		PerformedBy: actor,
		OldValue:    oldIDs,
		NewValue:    sortedIDs(permissions),
	})

	s.invalidateRoleMembers(ctx, role.ID)
	return nil
}

// BulkUpdateRolePermissions applies UpdateRolePermissions across many roles
// with validate-then-apply semantics: every role id and every permission id is
// checked before any role is touched, so one bad id leaves every role
// unchanged.
func (s *Service) BulkUpdateRolePermissions(ctx context.Context, updates map[string][]string, actor string) error {
	ctx = ensureContext(ctx)

	if len(updates) == 0 {
		return apperrors.NewBadRequest("no role updates supplied")
	}

	roleIDs := make([]string, 0, len(updates))
	for roleID := range updates {
		roleIDs = append(roleIDs, roleID)
	}
	sort.Strings(roleIDs)

	type pending struct {
		role        *models.Role
		oldIDs      []string
		permissions map[string]models.Permission
	}

	plan := make([]pending, 0, len(roleIDs))
	var missingRoles []string
	missingPerms := make(map[string]struct{})

	for _, roleID := range roleIDs {
		role, err := s.roles.RoleByID(ctx, roleID)
		if err != nil {
			if errors.Is(err, authz.ErrRoleNotFound) {
				missingRoles = append(missingRoles, roleID)
				continue
			}
			return err
		}

		permissions, err := s.resolvePermissions(ctx, updates[roleID])
		if err != nil {
			var unknown *unknownPermissionsError
			if errors.As(err, &unknown) {
				for _, id := range unknown.IDs {
					missingPerms[id] = struct{}{}
				}
				continue
			}
			return err
		}

		plan = append(plan, pending{role: role, oldIDs: permissionIDList(role.Permissions), permissions: permissions})
	}

	if len(missingRoles) > 0 || len(missingPerms) > 0 {
		return bulkValidationError(missingRoles, missingPerms)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, update := range plan {
			if err := tx.Model(update.role).Association("Permissions").Replace(permissionSlice(update.permissions)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("matrix service: bulk update role permissions: %w", err)
	}

	for _, update := range plan {
		s.recordAudit(ctx, authz.AuditEntry{
			Event:       models.EventRolePermissionsChanged,
			RoleID:      &update.role.ID,
			PerformedBy: actor,
			OldValue:    update.oldIDs,
			NewValue:    sortedIDs(update.permissions),
		})
		s.invalidateRoleMembers(ctx, update.role.ID)
	}
	return nil
}

// OverrideUpdateResult reports the outcome of UpdateUserOverrides.
type OverrideUpdateResult struct {
	Applied []models.UserPermission `json:"applied"`
	// SkippedInactive lists permission ids whose overrides were not written
	// because the permission is deactivated.
	SkippedInactive []string `json:"skipped_inactive,omitempty"`
}

// UpdateUserOverrides upserts one override per supplied (permission, state)
// entry for a user. Unknown permission ids reject the whole update; inactive
// permissions are skipped and reported rather than written.
func (s *Service) UpdateUserOverrides(ctx context.Context, userID string, states map[string]models.OverrideState, actor string) (*OverrideUpdateResult, error) {
	ctx = ensureContext(ctx)

	if len(states) == 0 {
		return nil, apperrors.NewBadRequest("no override updates supplied")
	}
	for permissionID, state := range states {
		if !state.Valid() {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("invalid override state %q for permission %s", state, permissionID))
		}
	}

	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	permissionIDs := make([]string, 0, len(states))
	for permissionID := range states {
		permissionIDs = append(permissionIDs, permissionID)
	}
	sort.Strings(permissionIDs)

	permissions, err := s.resolvePermissions(ctx, permissionIDs)
	if err != nil {
		return nil, err
	}

	result := &OverrideUpdateResult{}
	type change struct {
		event    models.AuditEvent
		before   any
		override models.UserPermission
	}
	var changes []change

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, permissionID := range permissionIDs {
			permission := permissions[permissionID]
			if !permission.IsActive {
				result.SkippedInactive = append(result.SkippedInactive, permissionID)
				continue
			}

			state := states[permissionID]

			var existing models.UserPermission
			lookupErr := tx.Where("user_id = ? AND permission_id = ?", userID, permissionID).First(&existing).Error
			switch {
			case lookupErr == nil:
				before := existing
				existing.State = state
				existing.UpdatedBy = actor
				if err := tx.Save(&existing).Error; err != nil {
					return err
				}
				changes = append(changes, change{event: models.EventOverrideUpdated, before: before, override: existing})

			case errors.Is(lookupErr, gorm.ErrRecordNotFound):
				override := models.UserPermission{
					UserID:       userID,
					PermissionID: permissionID,
					State:        state,
					CreatedBy:    actor,
					UpdatedBy:    actor,
				}
				if err := tx.Create(&override).Error; err != nil {
					return err
				}
				changes = append(changes, change{event: models.EventOverrideCreated, override: override})

			default:
				return lookupErr
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("matrix service: update user overrides: %w", err)
	}

	for _, c := range changes {
		result.Applied = append(result.Applied, c.override)
		s.recordAudit(ctx, authz.AuditEntry{
			Event:        c.event,
			UserID:       &c.override.UserID,
			PermissionID: &c.override.PermissionID,
			PerformedBy:  actor,
			OldValue:     c.before,
			NewValue:     c.override,
		})
	}

	if len(changes) > 0 {
		s.invalidateUser(ctx, userID)
	}
	return result, nil
}

// unknownPermissionsError names every permission id an update referenced that
// the catalog does not contain.
type unknownPermissionsError struct {
	IDs []string
}

func (e *unknownPermissionsError) Error() string {
	return "matrix service: unknown permission ids: " + strings.Join(e.IDs, ", ")
}

func (e *unknownPermissionsError) Unwrap() error {
	return authz.ErrPermissionNotFound
}

// resolvePermissions loads the named permissions, collecting every missing id
// into one error so callers can report the full rejection at once.
func (s *Service) resolvePermissions(ctx context.Context, ids []string) (map[string]models.Permission, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	resolved := make(map[string]models.Permission, len(unique))
	if len(unique) == 0 {
		return resolved, nil
	}

	var permissions []models.Permission
	if err := s.db.WithContext(ctx).Where("id IN ?", unique).Find(&permissions).Error; err != nil {
		return nil, fmt.Errorf("matrix service: load permissions: %w", err)
	}
	for _, permission := range permissions {
		resolved[permission.ID] = permission
	}

	var missing []string
	for _, id := range unique {
		if _, ok := resolved[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &unknownPermissionsError{IDs: missing}
	}
	return resolved, nil
}

func bulkValidationError(missingRoles []string, missingPerms map[string]struct{}) error {
	var parts []string
	if len(missingRoles) > 0 {
		parts = append(parts, "unknown role ids: "+strings.Join(missingRoles, ", "))
	}
	if len(missingPerms) > 0 {
		ids := make([]string, 0, len(missingPerms))
		for id := range missingPerms {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		parts = append(parts, "unknown permission ids: "+strings.Join(ids, ", "))
	}
	return apperrors.NewBadRequest(strings.Join(parts, "; "))
}

func permissionIDList(permissions []models.Permission) []string {
	ids := make([]string, 0, len(permissions))
	for _, permission := range permissions {
		ids = append(ids, permission.ID)
	}
	sort.Strings(ids)
	return ids
}

func sortedIDs(resolved map[string]models.Permission) []string {
	ids := make([]string, 0, len(resolved))
	for id := range resolved {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func permissionSlice(resolved map[string]models.Permission) []*models.Permission {
	out := make([]*models.Permission, 0, len(resolved))
	for _, id := range sortedIDs(resolved) {
		permission := resolved[id]
		out = append(out, &permission)
	}
	return out
}
