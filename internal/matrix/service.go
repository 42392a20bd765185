// Package matrix provides the bulk administration view over roles,
// permissions, and overrides: grid builds, atomic assignment updates,
// cross-entity comparison, consistency validation, and statistics.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/gatekeeper/internal/authz"
	"github.com/charlesng35/gatekeeper/internal/models"
	"github.com/charlesng35/gatekeeper/pkg/logger"
)

// Invalidator drops cached effective sets after access-changing mutations.
// The decision engine satisfies this interface.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
	InvalidateAll(ctx context.Context) error
}

// Service implements the matrix and consistency operations. Mutations go
// through the database handle transactionally; reads go through the same
// collaborator stores the decision engine uses.
type Service struct {
	db          *gorm.DB
	users       authz.UserStore
	roles       authz.RoleStore
	perms       authz.PermissionStore
	audit       authz.AuditSink
	invalidator Invalidator
	log         *zap.Logger
	now         func() time.Time
}

// Option customises the Service.
type Option func(*Service)

// WithClock overrides the time source used for override expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger attaches a logger for invalidation and audit failures.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService constructs the matrix service. Audit sink and invalidator are
// optional; mutations proceed without them, losing the audit trail and
// immediate cache coherence respectively.
func NewService(db *gorm.DB, users authz.UserStore, roles authz.RoleStore, perms authz.PermissionStore, audit authz.AuditSink, invalidator Invalidator, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("matrix service: db is required")
	}
	if users == nil {
		return nil, errors.New("matrix service: user store is required")
	}
	if roles == nil {
		return nil, errors.New("matrix service: role store is required")
	}
	if perms == nil {
		return nil, errors.New("matrix service: permission store is required")
	}

	s := &Service{
		db:          db,
		users:       users,
		roles:       roles,
		perms:       perms,
		audit:       audit,
		invalidator: invalidator,
		log:         logger.WithModule("matrix"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// snapshot is one consistent load of the whole catalog. Every read-side
// operation works from a single snapshot so counts, grids, and validation
// findings cannot drift apart mid-call.
type snapshot struct {
	roles       []models.Role // permissions preloaded
	permissions []models.Permission
	overrides   []models.UserPermission
	catalog     *authz.Catalog
}

func (s *Service) loadSnapshot(ctx context.Context) (*snapshot, error) {
	var roles []models.Role
	if err := s.db.WithContext(ctx).Preload("Permissions").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("matrix service: load roles: %w", err)
	}

	permissions, err := s.perms.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("matrix service: load permissions: %w", err)
	}

	var overrides []models.UserPermission
	if err := s.db.WithContext(ctx).Find(&overrides).Error; err != nil {
		return nil, fmt.Errorf("matrix service: load overrides: %w", err)
	}

	return &snapshot{
		roles:       roles,
		permissions: permissions,
		overrides:   overrides,
		catalog:     authz.NewCatalog(permissions),
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, entry authz.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Warn("audit record failed", zap.String("event", string(entry.Event)), zap.Error(err))
	}
}

func (s *Service) invalidateUser(ctx context.Context, userID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, userID); err != nil {
		s.log.Warn("cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// invalidateRoleMembers drops cached sets for every member of a role, falling
// back to a full flush when membership cannot be listed.
func (s *Service) invalidateRoleMembers(ctx context.Context, roleID string) {
	if s.invalidator == nil {
		return
	}

	members, err := s.roles.MemberIDs(ctx, roleID)
	if err != nil {
		s.log.Warn("member lookup failed, flushing all cached sets",
			zap.String("role_id", roleID), zap.Error(err))
		if flushErr := s.invalidator.InvalidateAll(ctx); flushErr != nil {
			s.log.Warn("cache flush failed", zap.Error(flushErr))
		}
		return
	}
	for _, userID := range members {
		s.invalidateUser(ctx, userID)
	}
}
