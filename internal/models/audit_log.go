package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditEvent enumerates the mutation kinds recorded by the engine. Handlers
// dispatch on this value rather than on the shape of the payload.
type AuditEvent string

const (
	EventRoleCreated            AuditEvent = "role.created"
	EventRoleUpdated            AuditEvent = "role.updated"
	EventRoleDeactivated        AuditEvent = "role.deactivated"
	EventRolePermissionsChanged AuditEvent = "role.permissions_changed"
	EventPermissionCreated      AuditEvent = "permission.created"
	EventPermissionDeactivated  AuditEvent = "permission.deactivated"
	EventOverrideCreated        AuditEvent = "override.created"
	EventOverrideUpdated        AuditEvent = "override.updated"
	EventOverrideRemoved        AuditEvent = "override.removed"
)

// PermissionAuditLog is an append-only record of permission, role, and
// override mutations, including before/after values for modifications.
type PermissionAuditLog struct {
	ID           string     `gorm:"primaryKey;type:uuid" json:"id"`
	Event        AuditEvent `gorm:"not null;index" json:"event"`
	UserID       *string    `gorm:"type:uuid;index" json:"user_id,omitempty"`
	RoleID       *string    `gorm:"type:uuid;index" json:"role_id,omitempty"`
	PermissionID *string    `gorm:"type:uuid;index" json:"permission_id,omitempty"`
	PerformedBy  string     `gorm:"index" json:"performed_by"`
	Reason       string     `json:"reason"`
	OldValue     string     `gorm:"type:text" json:"old_value"`
	NewValue     string     `gorm:"type:text" json:"new_value"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
}

func (a *PermissionAuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
