package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/gatekeeper/internal/authz"
	"github.com/charlesng35/gatekeeper/internal/database/testutil"
	"github.com/charlesng35/gatekeeper/internal/models"
	apperrors "github.com/charlesng35/gatekeeper/pkg/errors"
)

type recordingInvalidator struct {
	users   []string
	flushes int
}

func (r *recordingInvalidator) Invalidate(_ context.Context, userID string) error {
	r.users = append(r.users, userID)
	return nil
}

func (r *recordingInvalidator) InvalidateAll(_ context.Context) error {
	r.flushes++
	return nil
}

func newAdminFixture(t *testing.T) (*AdminService, *gorm.DB, *recordingInvalidator) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	roles, err := NewRoleStore(db)
	require.NoError(t, err)
	perms, err := NewPermissionStore(db)
	require.NoError(t, err)
	overrides, err := NewOverrideStore(db)
	require.NoError(t, err)
	audit, err := NewAuditService(db)
	require.NoError(t, err)

	inv := &recordingInvalidator{}
	admin, err := NewAdminService(db, roles, perms, overrides, audit, inv)
	require.NoError(t, err)

	return admin, db, inv
}

func auditEvents(t *testing.T, db *gorm.DB) []models.AuditEvent {
	t.Helper()

	var logs []models.PermissionAuditLog
	require.NoError(t, db.Order("created_at").Find(&logs).Error)
	events := make([]models.AuditEvent, len(logs))
	for i, log := range logs {
		events[i] = log.Event
	}
	return events
}

func TestAdminServiceCreateRole(t *testing.T) {
	admin, db, _ := newAdminFixture(t)

	role, err := admin.CreateRole(context.Background(), CreateRoleInput{Name: "Editors"}, "root")
	require.NoError(t, err)
	require.NotEmpty(t, role.ID)
	require.True(t, role.IsActive)
	require.False(t, role.IsSystem)

	_, err = admin.CreateRole(context.Background(), CreateRoleInput{Name: "Editors"}, "root")
	require.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = admin.CreateRole(context.Background(), CreateRoleInput{Name: "x"}, "root")
	require.Error(t, err)

	require.Contains(t, auditEvents(t, db), models.EventRoleCreated)
}

func TestAdminServiceUpdateRoleInvalidatesMembersOnActiveToggle(t *testing.T) {
	admin, db, inv := newAdminFixture(t)

	role := seedRole(t, db, "r-editors", "Editors")
	seedUser(t, db, "u1", "alice", true, role)
	seedUser(t, db, "u2", "bob", true, role)

	desc := "writers and reviewers"
	_, err := admin.UpdateRole(context.Background(), role.ID, UpdateRoleInput{Description: &desc}, "root")
	require.NoError(t, err)
	require.Empty(t, inv.users)

	inactive := false
	updated, err := admin.UpdateRole(context.Background(), role.ID, UpdateRoleInput{IsActive: &inactive}, "root")
	require.NoError(t, err)
	require.False(t, updated.IsActive)
	require.ElementsMatch(t, []string{"u1", "u2"}, inv.users)
}

func TestAdminServiceSystemRolesImmutable(t *testing.T) {
	admin, db, _ := newAdminFixture(t)

	system := models.Role{
		BaseModel: models.BaseModel{ID: "admin"},
		Name:      "Administrator",
		IsSystem:  true,
		IsActive:  true,
	}
	require.NoError(t, db.Create(&system).Error)

	name := "Renamed"
	_, err := admin.UpdateRole(context.Background(), "admin", UpdateRoleInput{Name: &name}, "root")
	require.ErrorIs(t, err, ErrSystemRoleImmutable)

	err = admin.DeactivateRole(context.Background(), "admin", "root", "cleanup")
	require.ErrorIs(t, err, ErrSystemRoleImmutable)
}

func TestAdminServiceDeactivateRole(t *testing.T) {
	admin, db, inv := newAdminFixture(t)

	role := seedRole(t, db, "r-editors", "Editors")
	seedUser(t, db, "u1", "alice", true, role)

	require.NoError(t, admin.DeactivateRole(context.Background(), role.ID, "root", "obsolete"))
	require.Equal(t, []string{"u1"}, inv.users)

	var reloaded models.Role
	require.NoError(t, db.First(&reloaded, "id = ?", role.ID).Error)
	require.False(t, reloaded.IsActive)

	// already inactive, a second call is a no-op
	inv.users = nil
	require.NoError(t, admin.DeactivateRole(context.Background(), role.ID, "root", "again"))
	require.Empty(t, inv.users)
}

func TestAdminServiceAssignAndRevokeRole(t *testing.T) {
	admin, db, inv := newAdminFixture(t)

	role := seedRole(t, db, "r-editors", "Editors")
	seedUser(t, db, "u1", "alice", true)

	require.NoError(t, admin.AssignRole(context.Background(), "u1", role.ID, "root"))
	require.Equal(t, []string{"u1"}, inv.users)

	var user models.User
	require.NoError(t, db.Preload("Roles").First(&user, "id = ?", "u1").Error)
	require.Len(t, user.Roles, 1)

	require.NoError(t, admin.RevokeRole(context.Background(), "u1", role.ID, "root"))
	require.Equal(t, []string{"u1", "u1"}, inv.users)

	require.NoError(t, db.Preload("Roles").First(&user, "id = ?", "u1").Error)
	require.Empty(t, user.Roles)

	require.ErrorIs(t, admin.AssignRole(context.Background(), "ghost", role.ID, "root"), authz.ErrUserNotFound)
	require.ErrorIs(t, admin.AssignRole(context.Background(), "u1", "ghost", "root"), authz.ErrRoleNotFound)
}

func TestAdminServiceCreatePermission(t *testing.T) {
	admin, db, inv := newAdminFixture(t)

	manage, err := admin.CreatePermission(context.Background(), CreatePermissionInput{
		Resource: "reports",
		Action:   "manage",
		Category: "analytics",
	}, "root")
	require.NoError(t, err)
	require.Equal(t, "reports.manage", manage.Name)
	require.Equal(t, 1, inv.flushes)

	child, err := admin.CreatePermission(context.Background(), CreatePermissionInput{
		Resource: "reports",
		Action:   "export",
		Category: "analytics",
		ParentID: &manage.ID,
	}, "root")
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	require.Equal(t, manage.ID, *child.ParentID)

	ghost := "ghost"
	_, err = admin.CreatePermission(context.Background(), CreatePermissionInput{
		Resource: "reports",
		Action:   "delete",
		ParentID: &ghost,
	}, "root")
	require.ErrorIs(t, err, authz.ErrPermissionNotFound)

	_, err = admin.CreatePermission(context.Background(), CreatePermissionInput{
		Resource: "reports",
		Action:   "manage",
	}, "root")
	require.ErrorIs(t, err, apperrors.ErrConflict)

	require.Contains(t, auditEvents(t, db), models.EventPermissionCreated)
}

func TestAdminServiceDeactivatePermission(t *testing.T) {
	admin, db, inv := newAdminFixture(t)

	perm := seedPermission(t, db, "p-export", "reports", "export")

	require.NoError(t, admin.DeactivatePermission(context.Background(), perm.ID, "root", "deprecated"))
	require.Equal(t, 1, inv.flushes)

	var reloaded models.Permission
	require.NoError(t, db.First(&reloaded, "id = ?", perm.ID).Error)
	require.False(t, reloaded.IsActive)

	// idempotent on an already inactive permission
	require.NoError(t, admin.DeactivatePermission(context.Background(), perm.ID, "root", "again"))
	require.Equal(t, 1, inv.flushes)
}

func TestAdminServiceSetOverrideSupersedes(t *testing.T) {
	admin, db, inv := newAdminFixture(t)

	perm := seedPermission(t, db, "p-write", "docs", "write")
	seedUser(t, db, "u1", "alice", true)

	created, err := admin.SetOverride(context.Background(), "u1", SetOverrideInput{
		PermissionID: perm.ID,
		State:        models.OverrideGrant,
		Reason:       "on-call",
	}, "root")
	require.NoError(t, err)
	require.Equal(t, models.OverrideGrant, created.State)
	require.Equal(t, "root", created.CreatedBy)
	require.Equal(t, []string{"u1"}, inv.users)

	expires := time.Now().Add(time.Hour)
	updated, err := admin.SetOverride(context.Background(), "u1", SetOverrideInput{
		PermissionID: perm.ID,
		State:        models.OverrideDeny,
		Reason:       "incident",
		ExpiresAt:    &expires,
	}, "auditor")
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, models.OverrideDeny, updated.State)
	require.Equal(t, "auditor", updated.UpdatedBy)

	var count int64
	require.NoError(t, db.Model(&models.UserPermission{}).
		Where("user_id = ? AND permission_id = ?", "u1", perm.ID).
		Count(&count).Error)
	require.EqualValues(t, 1, count)

	events := auditEvents(t, db)
	require.Contains(t, events, models.EventOverrideCreated)
	require.Contains(t, events, models.EventOverrideUpdated)
}

func TestAdminServiceSetOverrideValidation(t *testing.T) {
	admin, db, _ := newAdminFixture(t)

	perm := seedPermission(t, db, "p-write", "docs", "write")
	seedUser(t, db, "u1", "alice", true)

	_, err := admin.SetOverride(context.Background(), "u1", SetOverrideInput{
		PermissionID: perm.ID,
		State:        "maybe",
	}, "root")
	require.Error(t, err)

	_, err = admin.SetOverride(context.Background(), "u1", SetOverrideInput{
		PermissionID: "ghost",
		State:        models.OverrideGrant,
	}, "root")
	require.ErrorIs(t, err, authz.ErrPermissionNotFound)

	_, err = admin.SetOverride(context.Background(), "ghost", SetOverrideInput{
		PermissionID: perm.ID,
		State:        models.OverrideGrant,
	}, "root")
	require.ErrorIs(t, err, authz.ErrUserNotFound)
}

func TestAdminServiceRemoveOverride(t *testing.T) {
	admin, db, inv := newAdminFixture(t)

	perm := seedPermission(t, db, "p-write", "docs", "write")
	seedUser(t, db, "u1", "alice", true)

	override, err := admin.SetOverride(context.Background(), "u1", SetOverrideInput{
		PermissionID: perm.ID,
		State:        models.OverrideDeny,
	}, "root")
	require.NoError(t, err)

	inv.users = nil
	require.NoError(t, admin.RemoveOverride(context.Background(), override.ID, "root", "resolved"))
	require.Equal(t, []string{"u1"}, inv.users)

	require.ErrorIs(t, admin.RemoveOverride(context.Background(), override.ID, "root", "again"), ErrOverrideNotFound)
	require.Contains(t, auditEvents(t, db), models.EventOverrideRemoved)
}
