package authz

import (
	"context"
	"net/http"

	"github.com/charlesng35/gatekeeper/internal/models"
	apperrors "github.com/charlesng35/gatekeeper/pkg/errors"
)

// Sentinel errors returned by store implementations. The decision engine
// translates these into fail-closed decisions; administrative callers surface
// them directly.
var (
	// ErrUserNotFound indicates the subject of a decision does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrRoleNotFound indicates a role id referenced by an update does not exist.
	ErrRoleNotFound = apperrors.New("ROLE_NOT_FOUND", "Role not found", http.StatusNotFound)
	// ErrPermissionNotFound indicates a permission id referenced by an update does not exist.
	ErrPermissionNotFound = apperrors.New("PERMISSION_NOT_FOUND", "Permission not found", http.StatusNotFound)
)

// UserAccess bundles everything the calculator needs about one user, loaded
// as a single snapshot so decisions within a call stay mutually consistent.
type UserAccess struct {
	User      models.User
	Roles     []models.Role           // permissions preloaded
	Overrides []models.UserPermission // permission preloaded
}

// UserStore exposes user lookups required by the decision engine.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserWithAccess(ctx context.Context, id string) (*UserAccess, error)
}

// RoleStore exposes role to permission assignments.
type RoleStore interface {
	RoleByID(ctx context.Context, id string) (*models.Role, error)
	RolesForUser(ctx context.Context, userID string) ([]models.Role, error)
	PermissionsForRole(ctx context.Context, roleID string) ([]models.Permission, error)
	MemberIDs(ctx context.Context, roleID string) ([]string, error)
}

// PermissionStore exposes the permission catalog.
type PermissionStore interface {
	All(ctx context.Context) ([]models.Permission, error)
	ByID(ctx context.Context, id string) (*models.Permission, error)
	ByIDs(ctx context.Context, ids []string) ([]models.Permission, error)
	ByName(ctx context.Context, name string) (*models.Permission, error)
}

// OverrideStore exposes per-user Grant/Deny overrides.
type OverrideStore interface {
	ForUser(ctx context.Context, userID string) ([]models.UserPermission, error)
	Add(ctx context.Context, override *models.UserPermission) error
	Update(ctx context.Context, override *models.UserPermission) error
	BulkAdd(ctx context.Context, overrides []models.UserPermission) error
	Remove(ctx context.Context, id string) error
}

// AuditEntry describes one mutation to record. Old and new values are
// serialised by the sink.
type AuditEntry struct {
	Event        models.AuditEvent
	UserID       *string
	RoleID       *string
	PermissionID *string
	PerformedBy  string
	Reason       string
	OldValue     any
	NewValue     any
}

// AuditSink receives mutation events. Implementations must never block a
// decision; callers treat failures as log-and-continue.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}
