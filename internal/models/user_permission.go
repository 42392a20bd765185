package models

import "time"

// OverrideState distinguishes user-level permission overrides.
type OverrideState string

const (
	// OverrideGrant adds a permission on top of role-derived access.
	OverrideGrant OverrideState = "grant"
	// OverrideDeny removes a permission regardless of role-derived access.
	OverrideDeny OverrideState = "deny"
)

// Valid reports whether the state is one of the known override kinds.
func (s OverrideState) Valid() bool {
	return s == OverrideGrant || s == OverrideDeny
}

// UserPermission records one user's explicit deviation from role-derived
// permissions. At most one active override exists per (UserID, PermissionID)
// pair; a new override for the same pair supersedes the prior one. Expiry is
// evaluated at read time, expired rows linger until maintenance removes them.
type UserPermission struct {
	BaseModel

	UserID       string      `gorm:"type:uuid;not null;uniqueIndex:idx_user_permission_pair" json:"user_id"`
	PermissionID string      `gorm:"type:uuid;not null;uniqueIndex:idx_user_permission_pair" json:"permission_id"`
	Permission   *Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`

	State     OverrideState `gorm:"not null" json:"state"`
	Reason    string        `json:"reason"`
	ExpiresAt *time.Time    `gorm:"index" json:"expires_at,omitempty"`

	CreatedBy string `json:"created_by"`
	UpdatedBy string `json:"updated_by"`
}

// Expired reports whether the override has lapsed at the given instant.
func (o *UserPermission) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// ActiveAt reports whether the override should influence effective
// permissions at the given instant.
func (o *UserPermission) ActiveAt(now time.Time) bool {
	return o.State.Valid() && !o.Expired(now)
}
