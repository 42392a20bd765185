package models

import (
	"strings"

	"gorm.io/gorm"
)

// Permission defines a single action on a resource. Identity is the
// (Resource, Action) pair; Name is the derived "resource.action" form used
// everywhere permissions are matched by name.
type Permission struct {
	BaseModel

	Resource    string `gorm:"not null;uniqueIndex:idx_permissions_resource_action" json:"resource"`
	Action      string `gorm:"not null;uniqueIndex:idx_permissions_resource_action" json:"action"`
	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Category    string `gorm:"index" json:"category"`
	Description string `json:"description"`
	IsActive    bool   `gorm:"default:true;index" json:"is_active"`

	// ParentID points at a broader permission in the same catalog. Holding the
	// parent satisfies a check for this permission.
	ParentID *string     `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	Parent   *Permission `gorm:"foreignKey:ParentID" json:"-"`

	Roles []Role `gorm:"many2many:role_permissions;" json:"roles,omitempty"`
}

// BeforeSave derives the permission name when it has not been set explicitly.
func (p *Permission) BeforeSave(tx *gorm.DB) error {
	p.Resource = strings.TrimSpace(p.Resource)
	p.Action = strings.TrimSpace(p.Action)
	if p.Name == "" {
		p.Name = PermissionName(p.Resource, p.Action)
	}
	return nil
}

// PermissionName builds the canonical "resource.action" permission name.
func PermissionName(resource, action string) string {
	return strings.TrimSpace(resource) + "." + strings.TrimSpace(action)
}
