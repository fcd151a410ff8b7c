package service

import (
	"context"
	"errors"

	"github.com/sandeepkv93/session-guard/internal/clock"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"github.com/sandeepkv93/session-guard/internal/security"

	"github.com/google/uuid"
)

type DeviceTracker struct {
	devices repository.TrustedDeviceRepository
	clock   clock.Clock
}

func NewDeviceTracker(devices repository.TrustedDeviceRepository, clk clock.Clock) *DeviceTracker {
	return &DeviceTracker{devices: devices, clock: clk}
}

func (t *DeviceTracker) Fingerprint(ip, userAgent string) string {
	return security.DeviceFingerprint(ip, userAgent)
}

// RecordAccess inserts the device on first sight and otherwise refreshes
// its last-seen time and connection metadata.
func (t *DeviceTracker) RecordAccess(ctx context.Context, userID, fingerprint, ip, userAgent string) error {
	now := t.clock.Now()
	err := t.devices.Upsert(ctx, &domain.TrustedDevice{
		ID:                uuid.NewString(),
		UserID:            userID,
		DeviceFingerprint: fingerprint,
		IPAddress:         ip,
		UserAgent:         userAgent,
		FirstSeenAt:       now,
		LastSeenAt:        now,
	})
	if err != nil {
		return internalError("record device access", err)
	}
	return nil
}

func (t *DeviceTracker) IsKnownDevice(ctx context.Context, userID, fingerprint string) (bool, error) {
	_, err := t.find(ctx, userID, fingerprint)
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *DeviceTracker) IsTrustedDevice(ctx context.Context, userID, fingerprint string) (bool, error) {
	d, err := t.find(ctx, userID, fingerprint)
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return d.TrustedAt != nil, nil
}

func (t *DeviceTracker) find(ctx context.Context, userID, fingerprint string) (*domain.TrustedDevice, error) {
	d, err := t.devices.Find(ctx, userID, fingerprint)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return nil, err
		}
		return nil, internalError("find device", err)
	}
	return d, nil
}
