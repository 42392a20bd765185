package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/gatekeeper/internal/authz"
	"github.com/charlesng35/gatekeeper/internal/models"
	apperrors "github.com/charlesng35/gatekeeper/pkg/errors"
)

// UserStore loads users and their access snapshots from the database. It
// implements authz.UserStore.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore constructs a UserStore using the provided database handle.
func NewUserStore(db *gorm.DB) (*UserStore, error) {
	if db == nil {
		return nil, errors.New("user store: db is required")
	}
	return &UserStore{db: db}, nil
}

// GetUser returns the user with the supplied id.
func (s *UserStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authz.ErrUserNotFound
		}
		return nil, fmt.Errorf("user store: get user: %w", err)
	}
	return &user, nil
}

// GetUserWithAccess loads the user together with their roles, role
// permissions, and overrides in one snapshot.
func (s *UserStore) GetUserWithAccess(ctx context.Context, id string) (*authz.UserAccess, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Roles.Permissions").
		Preload("Overrides.Permission").
		First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, authz.ErrUserNotFound
		}
		return nil, fmt.Errorf("user store: get user with access: %w", err)
	}

	access := &authz.UserAccess{
		User:      user,
		Roles:     user.Roles,
		Overrides: user.Overrides,
	}
	return access, nil
}
