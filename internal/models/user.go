package models

// User is the subject of every authorization decision. Only identity, the
// active flag, role membership and overrides matter to this engine; profile
// and credential concerns live with the owning application.
type User struct {
	BaseModel

	Username string `gorm:"uniqueIndex;not null" json:"username"`
	IsActive bool   `gorm:"default:true;index" json:"is_active"`

	Roles     []Role           `gorm:"many2many:user_roles;" json:"roles,omitempty"`
	Overrides []UserPermission `gorm:"foreignKey:UserID" json:"overrides,omitempty"`
}
