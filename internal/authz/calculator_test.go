package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/gatekeeper/internal/models"
)

func activeUser() *models.User {
	return &models.User{BaseModel: models.BaseModel{ID: "u1"}, Username: "alice", IsActive: true}
}

func editorRole(perms ...models.Permission) models.Role {
	return models.Role{
		BaseModel:   models.BaseModel{ID: "editor"},
		Name:        "Editor",
		IsActive:    true,
		Permissions: perms,
	}
}

func override(permissionID string, state models.OverrideState, expiresAt *time.Time, updatedAt time.Time) models.UserPermission {
	return models.UserPermission{
		BaseModel: models.BaseModel{
			ID:        "ov-" + permissionID + "-" + string(state),
			UpdatedAt: updatedAt,
		},
		UserID:       "u1",
		PermissionID: permissionID,
		State:        state,
		ExpiresAt:    expiresAt,
	}
}

func TestComputeEffectiveRolePermissions(t *testing.T) {
	now := time.Now()
	read := perm("read", "docs", "read", nil)
	write := perm("write", "docs", "write", nil)
	catalog := NewCatalog([]models.Permission{read, write})

	set := ComputeEffective(activeUser(), []models.Role{editorRole(read, write)}, nil, catalog, now)
	require.Equal(t, []string{"docs.read", "docs.write"}, EffectiveNames(set))
}

func TestComputeEffectiveDeterministic(t *testing.T) {
	now := time.Now()
	read := perm("read", "docs", "read", nil)
	catalog := NewCatalog([]models.Permission{read})
	roles := []models.Role{editorRole(read)}

	first := ComputeEffective(activeUser(), roles, nil, catalog, now)
	second := ComputeEffective(activeUser(), roles, nil, catalog, now)
	require.Equal(t, EffectiveNames(first), EffectiveNames(second))
}

func TestComputeEffectiveInactiveUser(t *testing.T) {
	now := time.Now()
	read := perm("read", "docs", "read", nil)
	catalog := NewCatalog([]models.Permission{read})

	user := activeUser()
	user.IsActive = false

	overrides := []models.UserPermission{override("read", models.OverrideGrant, nil, now)}
	set := ComputeEffective(user, []models.Role{editorRole(read)}, overrides, catalog, now)
	require.Empty(t, set)
}

func TestComputeEffectiveDenyWins(t *testing.T) {
	now := time.Now()
	read := perm("read", "docs", "read", nil)
	write := perm("write", "docs", "write", nil)
	catalog := NewCatalog([]models.Permission{read, write})

	overrides := []models.UserPermission{override("write", models.OverrideDeny, nil, now)}
	set := ComputeEffective(activeUser(), []models.Role{editorRole(read, write)}, overrides, catalog, now)
	require.Equal(t, []string{"docs.read"}, EffectiveNames(set))
}

func TestComputeEffectiveDenyBeatsExplicitGrant(t *testing.T) {
	now := time.Now()
	read := perm("read", "docs", "read", nil)
	catalog := NewCatalog([]models.Permission{read})

	overrides := []models.UserPermission{
		override("read", models.OverrideGrant, nil, now),
		{
			BaseModel:    models.BaseModel{ID: "ov-deny", UpdatedAt: now},
			UserID:       "u1",
			PermissionID: "read",
			State:        models.OverrideDeny,
		},
	}
	// duplicate rows for the same pair: the deny row is newer
	overrides[1].UpdatedAt = now.Add(time.Minute)

	set := ComputeEffective(activeUser(), nil, overrides, catalog, now)
	require.Empty(t, set)
}

func TestComputeEffectiveGrantAugments(t *testing.T) {
	now := time.Now()
	read := perm("read", "docs", "read", nil)
	export := perm("export", "docs", "export", nil)
	catalog := NewCatalog([]models.Permission{read, export})

	overrides := []models.UserPermission{override("export", models.OverrideGrant, nil, now)}
	set := ComputeEffective(activeUser(), []models.Role{editorRole(read)}, overrides, catalog, now)
	require.Equal(t, []string{"docs.export", "docs.read"}, EffectiveNames(set))
}

func TestComputeEffectiveExpiredOverrideIgnored(t *testing.T) {
	now := time.Now()
	yesterday := now.Add(-24 * time.Hour)
	write := perm("write", "docs", "write", nil)
	catalog := NewCatalog([]models.Permission{write})

	overrides := []models.UserPermission{override("write", models.OverrideDeny, &yesterday, now.Add(-48*time.Hour))}
	set := ComputeEffective(activeUser(), []models.Role{editorRole(write)}, overrides, catalog, now)
	require.Equal(t, []string{"docs.write"}, EffectiveNames(set))
}

func TestComputeEffectiveInactiveRoleExcluded(t *testing.T) {
	now := time.Now()
	read := perm("read", "docs", "read", nil)
	catalog := NewCatalog([]models.Permission{read})

	role := editorRole(read)
	role.IsActive = false

	set := ComputeEffective(activeUser(), []models.Role{role}, nil, catalog, now)
	require.Empty(t, set)
}

func TestComputeEffectiveInactivePermissionExcluded(t *testing.T) {
	now := time.Now()
	read := perm("read", "docs", "read", nil)
	retired := perm("retired", "docs", "retired", nil)
	retired.IsActive = false
	catalog := NewCatalog([]models.Permission{read, retired})

	// role still references the deactivated permission
	set := ComputeEffective(activeUser(), []models.Role{editorRole(read, retired)}, nil, catalog, now)
	require.Equal(t, []string{"docs.read"}, EffectiveNames(set))
}

func TestComputeEffectiveGrantOnInactivePermissionIgnored(t *testing.T) {
	now := time.Now()
	retired := perm("retired", "docs", "retired", nil)
	retired.IsActive = false
	catalog := NewCatalog([]models.Permission{retired})

	overrides := []models.UserPermission{override("retired", models.OverrideGrant, nil, now)}
	set := ComputeEffective(activeUser(), nil, overrides, catalog, now)
	require.Empty(t, set)
}

func TestComputeEffectiveDenyOnInactivePermissionStillApplies(t *testing.T) {
	now := time.Now()
	write := perm("write", "docs", "write", nil)
	catalog := NewCatalog([]models.Permission{write})

	role := editorRole(write)

	// catalog deactivates the permission after the deny was recorded; the
	// deny keeps suppressing the name
	deactivated := write
	deactivated.IsActive = false
	staleCatalog := NewCatalog([]models.Permission{deactivated})

	overrides := []models.UserPermission{override("write", models.OverrideDeny, nil, now)}
	set := ComputeEffective(activeUser(), []models.Role{role}, overrides, staleCatalog, now)
	require.Empty(t, set)

	// and against the live catalog the deny also wins
	set = ComputeEffective(activeUser(), []models.Role{role}, overrides, catalog, now)
	require.Empty(t, set)
}

func TestComputeEffectiveLatestOverridePerPairWins(t *testing.T) {
	now := time.Now()
	write := perm("write", "docs", "write", nil)
	catalog := NewCatalog([]models.Permission{write})

	older := override("write", models.OverrideDeny, nil, now.Add(-time.Hour))
	newer := override("write", models.OverrideGrant, nil, now)

	set := ComputeEffective(activeUser(), nil, []models.UserPermission{older, newer}, catalog, now)
	require.Equal(t, []string{"docs.write"}, EffectiveNames(set))
}
