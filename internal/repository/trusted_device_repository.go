package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrDeviceNotFound = errors.New("trusted device not found")

type TrustedDeviceRepository interface {
	Upsert(ctx context.Context, d *domain.TrustedDevice) error
	Find(ctx context.Context, userID, fingerprint string) (*domain.TrustedDevice, error)
}

type GormTrustedDeviceRepository struct{ db *gorm.DB }

func NewTrustedDeviceRepository(db *gorm.DB) *GormTrustedDeviceRepository {
	return &GormTrustedDeviceRepository{db: db}
}

// Upsert inserts on first sight of (user, fingerprint); afterwards only the
// last-seen time and connection metadata change. FirstSeenAt and TrustedAt
// are never overwritten.
func (r *GormTrustedDeviceRepository) Upsert(ctx context.Context, d *domain.TrustedDevice) error {
	err := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "device_fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen_at", "ip_address", "user_agent"}),
	}).Create(d).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "trusted_device", "upsert", "error")
		return fmt.Errorf("upsert trusted device: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "trusted_device", "upsert", "success")
	return nil
}

func (r *GormTrustedDeviceRepository) Find(ctx context.Context, userID, fingerprint string) (*domain.TrustedDevice, error) {
	var d domain.TrustedDevice
	err := conn(ctx, r.db).
		Where("user_id = ? AND device_fingerprint = ?", userID, fingerprint).
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "trusted_device", "find", "not_found")
			return nil, ErrDeviceNotFound
		}
		observability.RecordRepositoryOperation(ctx, "trusted_device", "find", "error")
		return nil, fmt.Errorf("find trusted device: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "trusted_device", "find", "success")
	return &d, nil
}
