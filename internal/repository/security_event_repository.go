package repository

import (
	"context"
	"fmt"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"

	"gorm.io/gorm"
)

type SecurityEventQuery struct {
	PageRequest
	UserID    string
	EventType domain.SecurityEventType
	Severity  domain.Severity
}

// SecurityEventRepository is append-only; there is no update or delete.
type SecurityEventRepository interface {
	Append(ctx context.Context, e *domain.SecurityEvent) error
	List(ctx context.Context, q SecurityEventQuery) (PageResult[domain.SecurityEvent], error)
}

type GormSecurityEventRepository struct{ db *gorm.DB }

func NewSecurityEventRepository(db *gorm.DB) *GormSecurityEventRepository {
	return &GormSecurityEventRepository{db: db}
}

func (r *GormSecurityEventRepository) Append(ctx context.Context, e *domain.SecurityEvent) error {
	if err := conn(ctx, r.db).Create(e).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "security_event", "append", "error")
		return fmt.Errorf("append security event: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "security_event", "append", "success")
	return nil
}

// List returns events newest first. Empty filter fields match everything.
func (r *GormSecurityEventRepository) List(ctx context.Context, q SecurityEventQuery) (PageResult[domain.SecurityEvent], error) {
	page := q.PageRequest.normalize()

	base := conn(ctx, r.db).Model(&domain.SecurityEvent{})
	if q.UserID != "" {
		base = base.Where("user_id = ?", q.UserID)
	}
	if q.EventType != "" {
		base = base.Where("event_type = ?", q.EventType)
	}
	if q.Severity != "" {
		base = base.Where("severity = ?", q.Severity)
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "security_event", "list", "error")
		return PageResult[domain.SecurityEvent]{}, fmt.Errorf("count security events: %w", err)
	}

	var items []domain.SecurityEvent
	err := base.Order("created_at DESC").Order("id DESC").
		Offset(page.offset()).Limit(page.PageSize).
		Find(&items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "security_event", "list", "error")
		return PageResult[domain.SecurityEvent]{}, fmt.Errorf("list security events: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "security_event", "list", "success")
	return newPageResult(items, page, total), nil
}
