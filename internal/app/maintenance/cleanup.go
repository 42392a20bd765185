// Package maintenance runs the background hygiene jobs: removing overrides
// that expired long enough ago to be dead weight and pruning old audit rows.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/gatekeeper/internal/models"
	"github.com/charlesng35/gatekeeper/internal/store"
	"github.com/charlesng35/gatekeeper/pkg/logger"
)

const (
	defaultAuditRetentionDays    = 90
	defaultOverrideRetentionDays = 30
	defaultOverrideSpec          = "@hourly"
	defaultAuditSpec             = "@daily"
)

// Cleaner coordinates background maintenance: purging long-expired overrides
// and pruning stale audit logs. Expired overrides are already inert at read
// time; removal is hygiene, not correctness.
type Cleaner struct {
	db    *gorm.DB
	audit *store.AuditService
	cron  *cron.Cron
	now   func() time.Time
	log   *zap.Logger

	auditRetention    int
	overrideRetention int

	overrideSchedule string
	auditSchedule    string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.auditRetention = days
		}
	}
}

// WithOverrideRetentionDays adjusts how long expired overrides linger before removal.
func WithOverrideRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.overrideRetention = days
		}
	}
}

// WithOverrideSchedule overrides the cron expression for override cleanup.
func WithOverrideSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.overrideSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron expression for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil audit service
// skips the audit job; the db handle is required for the override job.
func NewCleaner(db *gorm.DB, audit *store.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:                db,
		audit:             audit,
		now:               time.Now,
		auditRetention:    defaultAuditRetentionDays,
		overrideRetention: defaultOverrideRetentionDays,
		overrideSchedule:  defaultOverrideSpec,
		auditSchedule:     defaultAuditSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.db != nil {
		if _, err := c.cron.AddFunc(c.overrideSchedule, func() {
			ctx := context.Background()
			if _, err := CleanupExpiredOverrides(ctx, c.db, c.now(), c.overrideRetention); err != nil {
				c.log.Warn("override cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.audit != nil && c.auditRetention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			ctx := context.Background()
			if _, err := c.audit.CleanupOlderThan(ctx, c.auditRetention); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.db != nil {
		if _, err := CleanupExpiredOverrides(ctx, c.db, c.now(), c.overrideRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.audit != nil && c.auditRetention > 0 {
		if _, err := c.audit.CleanupOlderThan(ctx, c.auditRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// CleanupExpiredOverrides removes overrides whose expiry lies more than
// retentionDays before now. Recently expired overrides stay visible so access
// reviews can still see what lapsed.
func CleanupExpiredOverrides(ctx context.Context, db *gorm.DB, now time.Time, retentionDays int) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup overrides: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if retentionDays < 0 {
		retentionDays = 0
	}

	cutoff := now.AddDate(0, 0, -retentionDays)

	result := db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", cutoff).
		Delete(&models.UserPermission{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup overrides: %w", result.Error)
	}
	return result.RowsAffected, nil
}
