package authz

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/gatekeeper/internal/models"
)

func perm(id, resource, action string, parentID *string) models.Permission {
	return models.Permission{
		BaseModel: models.BaseModel{ID: id},
		Resource:  resource,
		Action:    action,
		Name:      models.PermissionName(resource, action),
		IsActive:  true,
		ParentID:  parentID,
	}
}

func ptr(s string) *string { return &s }

func TestValidateHierarchyCleanCatalog(t *testing.T) {
	perms := []models.Permission{
		perm("admin", "docs", "admin", nil),
		perm("write", "docs", "write", ptr("admin")),
		perm("read", "docs", "read", ptr("write")),
	}

	require.Empty(t, ValidateHierarchy(perms))
}

func TestValidateHierarchyReportsMissingParent(t *testing.T) {
	perms := []models.Permission{
		perm("write", "docs", "write", ptr("ghost")),
	}

	violations := ValidateHierarchy(perms)
	require.Len(t, violations, 1)
	require.Equal(t, ViolationParentNotFound, violations[0].Code)
	require.Equal(t, SeverityHigh, violations[0].Severity)
	require.Equal(t, "docs.write", violations[0].Permission)
	require.Contains(t, violations[0].Detail, "ghost")
}

func TestValidateHierarchyReportsCycleOnce(t *testing.T) {
	perms := []models.Permission{
		perm("p1", "docs", "one", ptr("p2")),
		perm("p2", "docs", "two", ptr("p1")),
	}

	violations := ValidateHierarchy(perms)
	require.Len(t, violations, 1)
	require.Equal(t, ViolationCircularReference, violations[0].Code)
	require.Equal(t, SeverityCritical, violations[0].Severity)
	require.Contains(t, violations[0].Detail, "docs.one")
	require.Contains(t, violations[0].Detail, "docs.two")
}

func TestValidateHierarchySelfReference(t *testing.T) {
	perms := []models.Permission{
		perm("p1", "docs", "loop", ptr("p1")),
	}

	violations := ValidateHierarchy(perms)
	require.Len(t, violations, 1)
	require.Equal(t, ViolationCircularReference, violations[0].Code)
}

func TestValidateHierarchyTailIntoCycle(t *testing.T) {
	// p3 -> p1 -> p2 -> p1: the tail node is not part of the cycle itself
	perms := []models.Permission{
		perm("p1", "docs", "one", ptr("p2")),
		perm("p2", "docs", "two", ptr("p1")),
		perm("p3", "docs", "three", ptr("p1")),
	}

	violations := ValidateHierarchy(perms)
	codes := make([]string, len(violations))
	for i, v := range violations {
		codes[i] = v.Code
	}
	for _, code := range codes {
		require.Equal(t, ViolationCircularReference, code)
	}
	require.NotEmpty(t, violations)
}

func TestAncestorsOrderedNearestFirst(t *testing.T) {
	perms := []models.Permission{
		perm("root", "docs", "admin", nil),
		perm("mid", "docs", "write", ptr("root")),
		perm("leaf", "docs", "append", ptr("mid")),
	}
	catalog := NewCatalog(perms)

	leaf, ok := catalog.ByName("docs.append")
	require.True(t, ok)

	ancestors := catalog.Ancestors(leaf)
	require.Len(t, ancestors, 2)
	require.Equal(t, "docs.write", ancestors[0].Name)
	require.Equal(t, "docs.admin", ancestors[1].Name)
}

func TestAncestorsTerminatesOnCycle(t *testing.T) {
	perms := []models.Permission{
		perm("p1", "docs", "one", ptr("p2")),
		perm("p2", "docs", "two", ptr("p1")),
	}
	catalog := NewCatalog(perms)

	first, ok := catalog.ByID("p1")
	require.True(t, ok)

	ancestors := catalog.Ancestors(first)
	require.Len(t, ancestors, 1) // stops before revisiting p1
	require.Equal(t, "docs.two", ancestors[0].Name)
}

func TestAncestorsStopsAtDanglingParent(t *testing.T) {
	perms := []models.Permission{
		perm("p1", "docs", "one", ptr("missing")),
	}
	catalog := NewCatalog(perms)

	first, ok := catalog.ByID("p1")
	require.True(t, ok)
	require.Empty(t, catalog.Ancestors(first))
}

func TestCatalogLookups(t *testing.T) {
	catalog := NewCatalog([]models.Permission{perm("p1", "docs", "read", nil)})

	_, ok := catalog.ByID("p1")
	require.True(t, ok)
	_, ok = catalog.ByName("docs.read")
	require.True(t, ok)
	_, ok = catalog.ByName("docs.write")
	require.False(t, ok)
	require.Equal(t, 1, catalog.Len())
}
