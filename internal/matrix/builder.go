package matrix

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/charlesng35/gatekeeper/internal/authz"
	"github.com/charlesng35/gatekeeper/internal/models"
)

// BuildOptions narrows a role-permission matrix build.
type BuildOptions struct {
	// Category restricts the permission axis to one catalog category.
	Category string
}

// RolePermissionMatrix is the roles-by-permissions assignment grid.
type RolePermissionMatrix struct {
	Roles       []models.Role       `json:"roles"`
	Permissions []models.Permission `json:"permissions"`
	// Assignments maps role id to the set of assigned permission ids
	// restricted to the permission axis above.
	Assignments map[string]map[string]bool `json:"assignments"`
}

// Assigned reports whether the grid holds an assignment for the pair.
func (m *RolePermissionMatrix) Assigned(roleID, permissionID string) bool {
	row, ok := m.Assignments[roleID]
	return ok && row[permissionID]
}

// BuildRolePermissionMatrix returns the full assignment grid, optionally
// filtered to one permission category. All cells come from a single catalog
// snapshot.
func (s *Service) BuildRolePermissionMatrix(ctx context.Context, opts BuildOptions) (*RolePermissionMatrix, error) {
	ctx = ensureContext(ctx)

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	category := strings.TrimSpace(opts.Category)
	permissions := snap.permissions
	if category != "" {
		permissions = nil
		for _, permission := range snap.permissions {
			if permission.Category == category {
				permissions = append(permissions, permission)
			}
		}
	}

	axis := make(map[string]struct{}, len(permissions))
	for _, permission := range permissions {
		axis[permission.ID] = struct{}{}
	}

	assignments := make(map[string]map[string]bool, len(snap.roles))
	for _, role := range snap.roles {
		row := make(map[string]bool)
		for _, permission := range role.Permissions {
			if _, ok := axis[permission.ID]; ok {
				row[permission.ID] = true
			}
		}
		assignments[role.ID] = row
	}

	return &RolePermissionMatrix{
		Roles:       snap.roles,
		Permissions: permissions,
		Assignments: assignments,
	}, nil
}

// OverrideCell is one active override as shown in a user matrix.
type OverrideCell struct {
	PermissionID   string               `json:"permission_id"`
	PermissionName string               `json:"permission_name"`
	State          models.OverrideState `json:"state"`
	ExpiresAt      *time.Time           `json:"expires_at,omitempty"`
}

// UserPermissionMatrix breaks one user's access into its sources: what the
// roles contribute, what the overrides change, and the final effective set.
type UserPermissionMatrix struct {
	UserID          string         `json:"user_id"`
	Username        string         `json:"username"`
	RolePermissions []string       `json:"role_permissions"`
	Overrides       []OverrideCell `json:"overrides"`
	Effective       []string       `json:"effective"`
}

// BuildUserPermissionMatrix resolves one user's access. The effective set is
// produced by the same calculator the decision engine uses, so the matrix can
// never disagree with live authorization answers for the same data.
func (s *Service) BuildUserPermissionMatrix(ctx context.Context, userID string) (*UserPermissionMatrix, error) {
	ctx = ensureContext(ctx)

	access, err := s.users.GetUserWithAccess(ctx, userID)
	if err != nil {
		return nil, err
	}

	permissions, err := s.perms.All(ctx)
	if err != nil {
		return nil, err
	}
	catalog := authz.NewCatalog(permissions)
	now := s.now()

	effective := authz.EffectiveNames(authz.ComputeEffective(&access.User, access.Roles, access.Overrides, catalog, now))

	roleDerived := make(map[string]struct{})
	for _, role := range access.Roles {
		if !role.IsActive {
			continue
		}
		for _, permission := range role.Permissions {
			if permission.IsActive {
				roleDerived[permission.Name] = struct{}{}
			}
		}
	}
	rolePermissions := make([]string, 0, len(roleDerived))
	for name := range roleDerived {
		rolePermissions = append(rolePermissions, name)
	}
	sort.Strings(rolePermissions)

	var overrides []OverrideCell
	for _, override := range access.Overrides {
		if !override.ActiveAt(now) {
			continue
		}
		cell := OverrideCell{
			PermissionID: override.PermissionID,
			State:        override.State,
			ExpiresAt:    override.ExpiresAt,
		}
		if entry, ok := catalog.ByID(override.PermissionID); ok {
			cell.PermissionName = entry.Name
		}
		overrides = append(overrides, cell)
	}
	sort.Slice(overrides, func(i, j int) bool {
		return overrides[i].PermissionName < overrides[j].PermissionName
	})

	return &UserPermissionMatrix{
		UserID:          access.User.ID,
		Username:        access.User.Username,
		RolePermissions: rolePermissions,
		Overrides:       overrides,
		Effective:       effective,
	}, nil
}
