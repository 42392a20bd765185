package authz

import (
	"sort"
	"time"

	"github.com/charlesng35/gatekeeper/internal/models"
)

// ComputeEffective resolves the exact set of permission names the user holds
// at the given instant. It is a pure function of its inputs: no I/O, no
// hidden state, which is what makes it cacheable and independently testable.
//
// Precedence: role grants and Grant overrides accumulate, Deny overrides
// always win. A Grant contributes nothing unless the referenced permission
// exists and is active; a Deny applies by name regardless of the permission's
// active flag, so a deactivated catalog entry cannot silently re-open access.
func ComputeEffective(user *models.User, roles []models.Role, overrides []models.UserPermission, catalog *Catalog, now time.Time) map[string]struct{} {
	effective := make(map[string]struct{})

	if user == nil || !user.IsActive {
		return effective
	}

	for _, role := range roles {
		if !role.IsActive {
			continue
		}
		for _, perm := range role.Permissions {
			if catalogActive(catalog, perm) {
				effective[perm.Name] = struct{}{}
			}
		}
	}

	grants, denies := splitOverrides(overrides, catalog, now)
	for name := range grants {
		effective[name] = struct{}{}
	}
	for name := range denies {
		delete(effective, name)
	}

	return effective
}

// EffectiveNames returns the effective set as a sorted slice for callers that
// need a stable, serialisable form.
func EffectiveNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// splitOverrides reduces the raw override rows to at most one live override
// per permission and buckets them into grant and deny name sets. When the
// store returns duplicates for a pair, the most recently updated row wins.
func splitOverrides(overrides []models.UserPermission, catalog *Catalog, now time.Time) (grants, denies map[string]struct{}) {
	latest := make(map[string]*models.UserPermission, len(overrides))
	for i := range overrides {
		override := &overrides[i]
		if !override.ActiveAt(now) {
			continue
		}
		if prior, ok := latest[override.PermissionID]; ok && !override.UpdatedAt.After(prior.UpdatedAt) {
			continue
		}
		latest[override.PermissionID] = override
	}

	grants = make(map[string]struct{})
	denies = make(map[string]struct{})

	for permissionID, override := range latest {
		name := overrideName(override, catalog, permissionID)
		if name == "" {
			continue
		}
		switch override.State {
		case models.OverrideGrant:
			if perm, ok := catalog.ByID(permissionID); ok && perm.IsActive {
				grants[name] = struct{}{}
			}
		case models.OverrideDeny:
			denies[name] = struct{}{}
		}
	}

	return grants, denies
}

// overrideName resolves the permission name an override refers to, preferring
// the catalog snapshot over whatever the store preloaded.
func overrideName(override *models.UserPermission, catalog *Catalog, permissionID string) string {
	if perm, ok := catalog.ByID(permissionID); ok {
		return perm.Name
	}
	if override.Permission != nil {
		return override.Permission.Name
	}
	return ""
}

// catalogActive reports whether a role-assigned permission is active,
// consulting the catalog snapshot when it knows the entry.
func catalogActive(catalog *Catalog, perm models.Permission) bool {
	if entry, ok := catalog.ByID(perm.ID); ok {
		return entry.IsActive
	}
	return perm.IsActive
}
