package matrix

import (
	"context"
	"fmt"
	"sort"

	"github.com/charlesng35/gatekeeper/internal/models"
)

// RoleUsage reports how much of the active catalog one role covers.
type RoleUsage struct {
	RoleID          string  `json:"role_id"`
	Name            string  `json:"name"`
	PermissionCount int     `json:"permission_count"`
	CatalogPercent  float64 `json:"catalog_percent"`
}

// PermissionUsage reports how widely one permission is assigned.
type PermissionUsage struct {
	PermissionID string  `json:"permission_id"`
	Name         string  `json:"name"`
	RoleCount    int     `json:"role_count"`
	RolePercent  float64 `json:"role_percent"`
}

// Statistics is a read-side summary of the catalog, computed from one
// snapshot so the counts cannot drift apart.
type Statistics struct {
	Users             int64          `json:"users"`
	Roles             int            `json:"roles"`
	ActiveRoles       int            `json:"active_roles"`
	Permissions       int            `json:"permissions"`
	ActivePermissions int            `json:"active_permissions"`
	Overrides         int            `json:"overrides"`
	ActiveOverrides   int            `json:"active_overrides"`
	ByCategory        map[string]int `json:"by_category"`

	RoleUsage       []RoleUsage       `json:"role_usage"`
	PermissionUsage []PermissionUsage `json:"permission_usage"`
}

// Statistics aggregates counts and usage percentages across the catalog.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	ctx = ensureContext(ctx)

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var userCount int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&userCount).Error; err != nil {
		return nil, fmt.Errorf("matrix service: count users: %w", err)
	}

	stats := &Statistics{
		Users:       userCount,
		Roles:       len(snap.roles),
		Permissions: len(snap.permissions),
		Overrides:   len(snap.overrides),
		ByCategory:  make(map[string]int),
	}

	activeCatalog := 0
	for _, permission := range snap.permissions {
		stats.ByCategory[permission.Category]++
		if permission.IsActive {
			stats.ActivePermissions++
			activeCatalog++
		}
	}

	now := s.now()
	for _, override := range snap.overrides {
		if override.ActiveAt(now) {
			stats.ActiveOverrides++
		}
	}

	assignedRoles := make(map[string]int, len(snap.permissions))
	activeRoleCount := 0
	for _, role := range snap.roles {
		if role.IsActive {
			stats.ActiveRoles++
			activeRoleCount++
		}

		active := 0
		for _, permission := range role.Permissions {
			if permission.IsActive {
				active++
				if role.IsActive {
					assignedRoles[permission.ID]++
				}
			}
		}

		usage := RoleUsage{RoleID: role.ID, Name: role.Name, PermissionCount: active}
		if activeCatalog > 0 {
			usage.CatalogPercent = float64(active) / float64(activeCatalog) * 100
		}
		stats.RoleUsage = append(stats.RoleUsage, usage)
	}
	sort.Slice(stats.RoleUsage, func(i, j int) bool {
		return stats.RoleUsage[i].Name < stats.RoleUsage[j].Name
	})

	for _, permission := range snap.permissions {
		if !permission.IsActive {
			continue
		}
		usage := PermissionUsage{
			PermissionID: permission.ID,
			Name:         permission.Name,
			RoleCount:    assignedRoles[permission.ID],
		}
		if activeRoleCount > 0 {
			usage.RolePercent = float64(usage.RoleCount) / float64(activeRoleCount) * 100
		}
		stats.PermissionUsage = append(stats.PermissionUsage, usage)
	}
	sort.Slice(stats.PermissionUsage, func(i, j int) bool {
		return stats.PermissionUsage[i].Name < stats.PermissionUsage[j].Name
	})

	return stats, nil
}
