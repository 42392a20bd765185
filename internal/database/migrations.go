package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/gatekeeper/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Role{},
		&models.Permission{},
		&models.UserPermission{},
		&models.PermissionAuditLog{},
	)
}

// SeedData populates the built-in roles and the core permission catalog.
func SeedData(db *gorm.DB) error {
	roles := []models.Role{
		{
			BaseModel:   models.BaseModel{ID: "admin"},
			Name:        "Administrator",
			Description: "Full system access",
			IsSystem:    true,
			IsActive:    true,
		},
		{
			BaseModel:   models.BaseModel{ID: "user"},
			Name:        "User",
			Description: "Standard user access",
			IsSystem:    true,
			IsActive:    true,
		},
	}

	for _, role := range roles {
		if err := db.Where(models.Role{BaseModel: models.BaseModel{ID: role.ID}}).Attrs(role).FirstOrCreate(&models.Role{}).Error; err != nil {
			return err
		}
	}

	return seedPermissions(db)
}

// corePermissions is the catalog installed on first start. "manage" entries
// act as hierarchy parents for the finer-grained actions beneath them.
var corePermissions = []models.Permission{
	{BaseModel: models.BaseModel{ID: "user-view"}, Resource: "users", Action: "view", Category: "core", Description: "View users", IsActive: true},
	{BaseModel: models.BaseModel{ID: "user-manage"}, Resource: "users", Action: "manage", Category: "core", Description: "Manage users", IsActive: true},
	{BaseModel: models.BaseModel{ID: "user-create"}, Resource: "users", Action: "create", Category: "core", Description: "Create users", IsActive: true, ParentID: strPtr("user-manage")},
	{BaseModel: models.BaseModel{ID: "user-update"}, Resource: "users", Action: "update", Category: "core", Description: "Update users", IsActive: true, ParentID: strPtr("user-manage")},
	{BaseModel: models.BaseModel{ID: "user-delete"}, Resource: "users", Action: "delete", Category: "core", Description: "Delete users", IsActive: true, ParentID: strPtr("user-manage")},
	{BaseModel: models.BaseModel{ID: "role-view"}, Resource: "roles", Action: "view", Category: "core", Description: "View roles", IsActive: true},
	{BaseModel: models.BaseModel{ID: "role-manage"}, Resource: "roles", Action: "manage", Category: "core", Description: "Manage roles and assignments", IsActive: true},
	{BaseModel: models.BaseModel{ID: "permission-view"}, Resource: "permissions", Action: "view", Category: "core", Description: "View the permission catalog", IsActive: true},
	{BaseModel: models.BaseModel{ID: "permission-manage"}, Resource: "permissions", Action: "manage", Category: "core", Description: "Manage the permission catalog", IsActive: true},
	{BaseModel: models.BaseModel{ID: "audit-view"}, Resource: "audit", Action: "view", Category: "compliance", Description: "View permission audit logs", IsActive: true},
}

func seedPermissions(db *gorm.DB) error {
	for _, perm := range corePermissions {
		if err := db.Where(models.Permission{BaseModel: models.BaseModel{ID: perm.ID}}).Attrs(perm).FirstOrCreate(&models.Permission{}).Error; err != nil {
			return err
		}
	}
	return nil
}

func strPtr(s string) *string {
	return &s
}
