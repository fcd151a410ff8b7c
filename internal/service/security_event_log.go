package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandeepkv93/session-guard/internal/clock"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/repository"

	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
)

var eventSeverity = map[domain.SecurityEventType]domain.Severity{
	domain.EventTokenRotated:        domain.SeverityLow,
	domain.EventTokenReuseDetected:  domain.SeverityCritical,
	domain.EventTokenFamilyRevoked:  domain.SeverityMedium,
	domain.EventAccountLocked:       domain.SeverityHigh,
	domain.EventNewDeviceLogin:      domain.SeverityMedium,
	domain.EventTOTPChallengeFailed: domain.SeverityLow,
}

func SeverityFor(t domain.SecurityEventType) domain.Severity {
	if s, ok := eventSeverity[t]; ok {
		return s
	}
	return domain.SeverityMedium
}

type SecurityEventInput struct {
	Type     domain.SecurityEventType
	UserID   string
	Email    string
	Meta     RequestMeta
	Metadata map[string]any
}

type SecurityEventLogConfig struct {
	MaxAttempts    uint
	InitialBackoff time.Duration
}

// SecurityEventLog appends audit records. Record retries with backoff and
// is used outside transactions; RecordTx makes a single attempt so that a
// failure rolls back the surrounding transaction.
type SecurityEventLog struct {
	repo   repository.SecurityEventRepository
	clock  clock.Clock
	logger *slog.Logger
	cfg    SecurityEventLogConfig
}

func NewSecurityEventLog(repo repository.SecurityEventRepository, clk clock.Clock, logger *slog.Logger, cfg SecurityEventLogConfig) *SecurityEventLog {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityEventLog{repo: repo, clock: clk, logger: logger, cfg: cfg}
}

// Retry runs op under the audit write policy. Callers wrap whole
// transactions with it when an audit record must commit with other rows.
func (l *SecurityEventLog) Retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.InitialBackoff
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, backoff.WithBackOff(b), backoff.WithMaxTries(l.cfg.MaxAttempts))
	return err
}

func (l *SecurityEventLog) Record(ctx context.Context, in SecurityEventInput) error {
	event := l.build(in)
	err := l.Retry(ctx, func() error { return l.repo.Append(ctx, event) })
	if err != nil {
		observability.RecordSecurityEvent(ctx, string(event.EventType), string(event.Severity), "error")
		l.logger.ErrorContext(ctx, "security event write failed",
			"event_type", event.EventType,
			"severity", event.Severity,
			"user_id", in.UserID,
			"error", err,
		)
		return fmt.Errorf("record %s: %w", event.EventType, err)
	}
	observability.RecordSecurityEvent(ctx, string(event.EventType), string(event.Severity), "success")
	return nil
}

func (l *SecurityEventLog) RecordTx(ctx context.Context, in SecurityEventInput) error {
	event := l.build(in)
	if err := l.repo.Append(ctx, event); err != nil {
		observability.RecordSecurityEvent(ctx, string(event.EventType), string(event.Severity), "error")
		return fmt.Errorf("record %s: %w", event.EventType, err)
	}
	observability.RecordSecurityEvent(ctx, string(event.EventType), string(event.Severity), "success")
	return nil
}

func (l *SecurityEventLog) List(ctx context.Context, q repository.SecurityEventQuery) (repository.PageResult[domain.SecurityEvent], error) {
	return l.repo.List(ctx, q)
}

func (l *SecurityEventLog) build(in SecurityEventInput) *domain.SecurityEvent {
	now := l.clock.Now()
	e := &domain.SecurityEvent{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		EventType: in.Type,
		Severity:  SeverityFor(in.Type),
		IPAddress: in.Meta.IPAddress,
		UserAgent: in.Meta.UserAgent,
		CreatedAt: now,
	}
	if in.UserID != "" {
		e.UserID = ptr(in.UserID)
	}
	if in.Email != "" {
		e.Email = ptr(in.Email)
	}
	if len(in.Metadata) > 0 {
		e.Metadata = domain.JSONMap(in.Metadata)
	}
	return e
}

func ptr(v string) *string { return &v }
