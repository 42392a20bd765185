package authz

import (
	"fmt"
	"strings"

	"github.com/charlesng35/gatekeeper/internal/models"
)

// Violation codes reported by ValidateHierarchy.
const (
	ViolationParentNotFound    = "PARENT_NOT_FOUND"
	ViolationCircularReference = "CIRCULAR_REFERENCE"
)

// Violation severities.
const (
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Violation describes one structural defect in the permission hierarchy.
type Violation struct {
	Code       string `json:"code"`
	Severity   string `json:"severity"`
	Permission string `json:"permission"`
	Detail     string `json:"detail"`
}

// Catalog is an immutable snapshot of the permission definitions, indexed by
// id and by name. Parent references stay ids so hierarchy walks are bounded
// by a visited set instead of chasing live pointers.
type Catalog struct {
	byID   map[string]*models.Permission
	byName map[string]*models.Permission
	all    []models.Permission
}

// NewCatalog builds a catalog from a permission snapshot. Later entries with
// a duplicate id or name shadow earlier ones; Validate reports such defects.
func NewCatalog(perms []models.Permission) *Catalog {
	c := &Catalog{
		byID:   make(map[string]*models.Permission, len(perms)),
		byName: make(map[string]*models.Permission, len(perms)),
		all:    append([]models.Permission(nil), perms...),
	}
	for i := range c.all {
		perm := &c.all[i]
		c.byID[perm.ID] = perm
		if name := strings.TrimSpace(perm.Name); name != "" {
			c.byName[name] = perm
		}
	}
	return c
}

// ByID returns the permission with the given id.
func (c *Catalog) ByID(id string) (*models.Permission, bool) {
	perm, ok := c.byID[id]
	return perm, ok
}

// ByName returns the permission with the given "resource.action" name.
func (c *Catalog) ByName(name string) (*models.Permission, bool) {
	perm, ok := c.byName[strings.TrimSpace(name)]
	return perm, ok
}

// Permissions returns the full snapshot in catalog order.
func (c *Catalog) Permissions() []models.Permission {
	return c.all
}

// Len reports the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.all)
}

// Ancestors returns the parent chain of the permission, nearest first. The
// walk is bounded by a visited set: on a cycle or a dangling parent it stops
// and returns the ancestors collected so far, never an error. Validate is the
// surface that reports such defects.
func (c *Catalog) Ancestors(perm *models.Permission) []*models.Permission {
	if perm == nil {
		return nil
	}

	visited := map[string]struct{}{perm.ID: {}}
	var chain []*models.Permission

	current := perm
	for current.ParentID != nil {
		parent, ok := c.byID[*current.ParentID]
		if !ok {
			break
		}
		if _, seen := visited[parent.ID]; seen {
			break
		}
		visited[parent.ID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}

	return chain
}

// ValidateHierarchy checks every parent reference in the snapshot. It reports
// PARENT_NOT_FOUND for dangling references and CIRCULAR_REFERENCE for parent
// chains that revisit a node. Each cycle is reported once, naming every
// permission on it. The walk always terminates, even on malformed data.
func ValidateHierarchy(perms []models.Permission) []Violation {
	byID := make(map[string]*models.Permission, len(perms))
	for i := range perms {
		byID[perms[i].ID] = &perms[i]
	}

	var violations []Violation
	inReportedCycle := make(map[string]struct{})

	for i := range perms {
		perm := &perms[i]
		if perm.ParentID == nil {
			continue
		}
		if _, ok := byID[*perm.ParentID]; !ok {
			violations = append(violations, Violation{
				Code:       ViolationParentNotFound,
				Severity:   SeverityHigh,
				Permission: perm.Name,
				Detail:     fmt.Sprintf("parent permission %q does not exist", *perm.ParentID),
			})
			continue
		}
		if _, done := inReportedCycle[perm.ID]; done {
			continue
		}

		if cycle := walkForCycle(perm, byID); len(cycle) > 0 {
			names := make([]string, len(cycle))
			for j, member := range cycle {
				inReportedCycle[member.ID] = struct{}{}
				names[j] = member.Name
			}
			violations = append(violations, Violation{
				Code:       ViolationCircularReference,
				Severity:   SeverityCritical,
				Permission: perm.Name,
				Detail:     "circular parent chain: " + strings.Join(names, " -> "),
			})
		}
	}

	return violations
}

// walkForCycle follows the parent chain from start and returns the members of
// the cycle it runs into, or nil when the chain terminates.
func walkForCycle(start *models.Permission, byID map[string]*models.Permission) []*models.Permission {
	visited := make(map[string]int)
	var path []*models.Permission

	current := start
	for {
		if idx, seen := visited[current.ID]; seen {
			return path[idx:]
		}
		visited[current.ID] = len(path)
		path = append(path, current)

		if current.ParentID == nil {
			return nil
		}
		parent, ok := byID[*current.ParentID]
		if !ok {
			return nil
		}
		current = parent
	}
}
