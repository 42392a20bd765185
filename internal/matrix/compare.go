package matrix

import (
	"context"
	"fmt"
	"sort"

	"github.com/charlesng35/gatekeeper/internal/authz"
	apperrors "github.com/charlesng35/gatekeeper/pkg/errors"
)

// EntityKind distinguishes the subjects a comparison can take.
type EntityKind string

const (
	// EntityRole compares by a role's assigned active permissions.
	EntityRole EntityKind = "role"
	// EntityUser compares by a user's effective permission set.
	EntityUser EntityKind = "user"
)

// EntityRef names one side of a comparison.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// Comparison reports the permission overlap between two entities. Similarity
// is the Jaccard index of the two sets as a percentage.
type Comparison struct {
	A          EntityRef `json:"a"`
	B          EntityRef `json:"b"`
	Common     []string  `json:"common"`
	OnlyA      []string  `json:"only_a"`
	OnlyB      []string  `json:"only_b"`
	Similarity float64   `json:"similarity"`
}

// Compare builds the overlap report between two roles, two users, or a user
// and a role. Role sides use the role's assigned active permissions; user
// sides use the full effective set, overrides included.
func (s *Service) Compare(ctx context.Context, a, b EntityRef) (*Comparison, error) {
	ctx = ensureContext(ctx)

	setA, err := s.permissionNames(ctx, a)
	if err != nil {
		return nil, err
	}
	setB, err := s.permissionNames(ctx, b)
	if err != nil {
		return nil, err
	}

	var common, onlyA, onlyB []string
	for name := range setA {
		if _, ok := setB[name]; ok {
			common = append(common, name)
		} else {
			onlyA = append(onlyA, name)
		}
	}
	for name := range setB {
		if _, ok := setA[name]; !ok {
			onlyB = append(onlyB, name)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	// two empty sets are identical, not 0% similar
	similarity := 100.0
	if union := len(common) + len(onlyA) + len(onlyB); union > 0 {
		similarity = float64(len(common)) / float64(union) * 100
	}

	return &Comparison{
		A:          a,
		B:          b,
		Common:     common,
		OnlyA:      onlyA,
		OnlyB:      onlyB,
		Similarity: similarity,
	}, nil
}

func (s *Service) permissionNames(ctx context.Context, ref EntityRef) (map[string]struct{}, error) {
	switch ref.Kind {
	case EntityRole:
		role, err := s.roles.RoleByID(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		names := make(map[string]struct{}, len(role.Permissions))
		for _, permission := range role.Permissions {
			if permission.IsActive {
				names[permission.Name] = struct{}{}
			}
		}
		return names, nil

	case EntityUser:
		access, err := s.users.GetUserWithAccess(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		permissions, err := s.perms.All(ctx)
		if err != nil {
			return nil, err
		}
		return authz.ComputeEffective(&access.User, access.Roles, access.Overrides, authz.NewCatalog(permissions), s.now()), nil

	default:
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown entity kind %q", ref.Kind))
	}
}
