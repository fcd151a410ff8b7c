package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"
)

func TestTrustedDeviceRepositoryUpsertKeepsFirstSeen(t *testing.T) {
	repo := NewTrustedDeviceRepository(newDBForTest(t))
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(48 * time.Hour)

	if _, err := repo.Find(ctx, "u1", "fp-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound before first access, got %v", err)
	}

	if err := repo.Upsert(ctx, &domain.TrustedDevice{
		ID: "dev-1", UserID: "u1", DeviceFingerprint: "fp-1",
		IPAddress: "10.0.0.1", UserAgent: "ua-1", FirstSeenAt: first, LastSeenAt: first,
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := repo.Upsert(ctx, &domain.TrustedDevice{
		ID: "dev-2", UserID: "u1", DeviceFingerprint: "fp-1",
		IPAddress: "10.0.0.2", UserAgent: "ua-2", FirstSeenAt: second, LastSeenAt: second,
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	d, err := repo.Find(ctx, "u1", "fp-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if d.ID != "dev-1" {
		t.Fatalf("expected original row kept, got %s", d.ID)
	}
	if !d.FirstSeenAt.Equal(first) || !d.LastSeenAt.Equal(second) {
		t.Fatalf("unexpected timestamps first=%s last=%s", d.FirstSeenAt, d.LastSeenAt)
	}
	if d.IPAddress != "10.0.0.2" || d.UserAgent != "ua-2" {
		t.Fatalf("expected connection metadata refreshed, got %s %s", d.IPAddress, d.UserAgent)
	}
	if d.TrustedAt != nil {
		t.Fatal("expected device to be known but not trusted")
	}
}
