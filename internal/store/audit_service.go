package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/gatekeeper/internal/authz"
	"github.com/charlesng35/gatekeeper/internal/models"
	"github.com/charlesng35/gatekeeper/pkg/logger"
)

// AuditService persists permission audit events. It implements authz.AuditSink.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db}, nil
}

// Record stores one audit entry, serialising the before/after values.
func (s *AuditService) Record(ctx context.Context, entry authz.AuditEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(string(entry.Event)) == "" {
		return errors.New("audit service: event is required")
	}

	oldValue, err := marshalValue(entry.OldValue)
	if err != nil {
		return fmt.Errorf("audit service: marshal old value: %w", err)
	}
	newValue, err := marshalValue(entry.NewValue)
	if err != nil {
		return fmt.Errorf("audit service: marshal new value: %w", err)
	}

	record := models.PermissionAuditLog{
		Event:        entry.Event,
		UserID:       trimIDPtr(entry.UserID),
		RoleID:       trimIDPtr(entry.RoleID),
		PermissionID: trimIDPtr(entry.PermissionID),
		PerformedBy:  strings.TrimSpace(entry.PerformedBy),
		Reason:       strings.TrimSpace(entry.Reason),
		OldValue:     oldValue,
		NewValue:     newValue,
	}

	return s.db.WithContext(ctx).Create(&record).Error
}

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	UserID       string
	RoleID       string
	PermissionID string
	Event        models.AuditEvent
	Since        *time.Time
	Until        *time.Time
}

// List returns audit logs matching the filters, newest first, capped at limit.
func (s *AuditService) List(ctx context.Context, filters AuditFilters, limit int) ([]models.PermissionAuditLog, error) {
	ctx = ensureContext(ctx)

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var logs []models.PermissionAuditLog
	query := applyAuditFilters(s.db.WithContext(ctx).Model(&models.PermissionAuditLog{}), filters)
	if err := query.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("audit service: list logs: %w", err)
	}
	return logs, nil
}

// CleanupOlderThan removes audit logs older than the supplied retention window (in days).
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.PermissionAuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}
	if filters.RoleID != "" {
		query = query.Where("role_id = ?", filters.RoleID)
	}
	if filters.PermissionID != "" {
		query = query.Where("permission_id = ?", filters.PermissionID)
	}
	if filters.Event != "" {
		query = query.Where("event = ?", filters.Event)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}

// recordAudit logs the supplied entry while tolerating audit failures. A
// failed audit write must never fail the mutation it describes.
func recordAudit(sink authz.AuditSink, ctx context.Context, entry authz.AuditEntry) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, entry); err != nil {
		logger.Warn("audit record failed",
			zap.String("event", string(entry.Event)),
			zap.Error(err),
		)
	}
}

func marshalValue(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func trimIDPtr(id *string) *string {
	if id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
