package matrix

import (
	"context"
	"fmt"

	"github.com/charlesng35/gatekeeper/internal/authz"
	"github.com/charlesng35/gatekeeper/internal/models"
)

// Issue codes reported by Validate beyond the hierarchy violations.
const (
	IssueDanglingAssignment = "DANGLING_ASSIGNMENT"
	IssueDanglingMembership = "DANGLING_MEMBERSHIP"
	IssueDanglingOverride   = "DANGLING_OVERRIDE"
	IssueRoleWithoutPerms   = "ROLE_WITHOUT_PERMISSIONS"
	IssueOrphanedPermission = "ORPHANED_PERMISSION"
	IssueExpiredOverride    = "EXPIRED_OVERRIDE"
)

// Issue is one consistency finding. EntityID names the record the finding is
// about; for pair findings it is the referencing side.
type Issue struct {
	Code     string `json:"code"`
	EntityID string `json:"entity_id"`
	Detail   string `json:"detail"`
}

// Report separates findings an operator must fix from findings worth
// reviewing. Validate never auto-corrects either kind.
type Report struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Clean reports whether validation found nothing at all.
func (r *Report) Clean() bool {
	return len(r.Errors) == 0 && len(r.Warnings) == 0
}

// assignmentRow and membershipRow mirror the join tables for
// dangling-reference checks, which must see rows the ORM would silently drop
// on preload.
type assignmentRow struct {
	RoleID       string
	PermissionID string
}

type membershipRow struct {
	UserID string
	RoleID string
}

// Validate inspects the whole catalog for consistency problems: hierarchy
// violations and dangling references are errors, hygiene findings (empty
// roles, orphaned permissions, expired overrides) are warnings.
func (s *Service) Validate(ctx context.Context) (*Report, error) {
	ctx = ensureContext(ctx)

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var userIDs []string
	if err := s.db.WithContext(ctx).Model(&models.User{}).Pluck("id", &userIDs).Error; err != nil {
		return nil, fmt.Errorf("matrix service: load user ids: %w", err)
	}

	var assignments []assignmentRow
	if err := s.db.WithContext(ctx).Table("role_permissions").Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("matrix service: load assignments: %w", err)
	}

	var memberships []membershipRow
	if err := s.db.WithContext(ctx).Table("user_roles").Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("matrix service: load memberships: %w", err)
	}

	report := &Report{}

	for _, violation := range authz.ValidateHierarchy(snap.permissions) {
		report.Errors = append(report.Errors, Issue{
			Code:     violation.Code,
			EntityID: violation.Permission,
			Detail:   violation.Detail,
		})
	}

	roleIDs := make(map[string]struct{}, len(snap.roles))
	for _, role := range snap.roles {
		roleIDs[role.ID] = struct{}{}
	}
	users := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		users[id] = struct{}{}
	}

	referenced := make(map[string]struct{})
	for _, assignment := range assignments {
		_, roleOK := roleIDs[assignment.RoleID]
		_, permOK := snap.catalog.ByID(assignment.PermissionID)
		if !roleOK {
			report.Errors = append(report.Errors, Issue{
				Code:     IssueDanglingAssignment,
				EntityID: assignment.RoleID,
				Detail:   fmt.Sprintf("assignment references missing role %s", assignment.RoleID),
			})
		}
		if !permOK {
			report.Errors = append(report.Errors, Issue{
				Code:     IssueDanglingAssignment,
				EntityID: assignment.RoleID,
				Detail:   fmt.Sprintf("role %s references missing permission %s", assignment.RoleID, assignment.PermissionID),
			})
		} else {
			referenced[assignment.PermissionID] = struct{}{}
		}
	}

	for _, membership := range memberships {
		if _, ok := users[membership.UserID]; !ok {
			report.Errors = append(report.Errors, Issue{
				Code:     IssueDanglingMembership,
				EntityID: membership.RoleID,
				Detail:   fmt.Sprintf("role %s membership references missing user %s", membership.RoleID, membership.UserID),
			})
		}
		if _, ok := roleIDs[membership.RoleID]; !ok {
			report.Errors = append(report.Errors, Issue{
				Code:     IssueDanglingMembership,
				EntityID: membership.UserID,
				Detail:   fmt.Sprintf("user %s membership references missing role %s", membership.UserID, membership.RoleID),
			})
		}
	}

	now := s.now()
	for _, override := range snap.overrides {
		if _, ok := users[override.UserID]; !ok {
			report.Errors = append(report.Errors, Issue{
				Code:     IssueDanglingOverride,
				EntityID: override.ID,
				Detail:   fmt.Sprintf("override references missing user %s", override.UserID),
			})
		}
		if _, ok := snap.catalog.ByID(override.PermissionID); !ok {
			report.Errors = append(report.Errors, Issue{
				Code:     IssueDanglingOverride,
				EntityID: override.ID,
				Detail:   fmt.Sprintf("override references missing permission %s", override.PermissionID),
			})
		} else {
			referenced[override.PermissionID] = struct{}{}
		}
		if override.Expired(now) {
			report.Warnings = append(report.Warnings, Issue{
				Code:     IssueExpiredOverride,
				EntityID: override.ID,
				Detail:   fmt.Sprintf("override for user %s expired at %s", override.UserID, override.ExpiresAt.Format("2006-01-02")),
			})
		}
	}

	for _, role := range snap.roles {
		if role.IsActive && len(role.Permissions) == 0 {
			report.Warnings = append(report.Warnings, Issue{
				Code:     IssueRoleWithoutPerms,
				EntityID: role.ID,
				Detail:   fmt.Sprintf("role %q has no permissions assigned", role.Name),
			})
		}
	}

	for _, permission := range snap.permissions {
		if _, ok := referenced[permission.ID]; !ok {
			report.Warnings = append(report.Warnings, Issue{
				Code:     IssueOrphanedPermission,
				EntityID: permission.ID,
				Detail:   fmt.Sprintf("permission %q is not assigned to any role or override", permission.Name),
			})
		}
	}

	return report, nil
}
