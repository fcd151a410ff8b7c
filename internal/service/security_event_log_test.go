package service

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sandeepkv93/session-guard/internal/domain"
)

func TestSeverityFor(t *testing.T) {
	cases := map[domain.SecurityEventType]domain.Severity{
		domain.EventTokenRotated:        domain.SeverityLow,
		domain.EventTokenReuseDetected:  domain.SeverityCritical,
		domain.EventTokenFamilyRevoked:  domain.SeverityMedium,
		domain.EventAccountLocked:       domain.SeverityHigh,
		domain.EventNewDeviceLogin:      domain.SeverityMedium,
		domain.EventTOTPChallengeFailed: domain.SeverityLow,
		"something_else":                domain.SeverityMedium,
	}
	for eventType, want := range cases {
		if got := SeverityFor(eventType); got != want {
			t.Fatalf("SeverityFor(%s) = %s, want %s", eventType, got, want)
		}
	}
}

func TestRecordBuildsSortableEvent(t *testing.T) {
	h := newServiceHarness(t, harnessConfig{})
	ctx := context.Background()
	err := h.eventLog.Record(ctx, SecurityEventInput{
		Type:     domain.EventNewDeviceLogin,
		UserID:   "user-1",
		Email:    "alice@example.com",
		Meta:     testMeta,
		Metadata: map[string]any{"family_id": "fam-1"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	h.clock.Advance(time.Second)
	if err := h.eventLog.Record(ctx, SecurityEventInput{Type: domain.EventTokenRotated}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events := h.events.events
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	first, second := events[0], events[1]
	id, err := ulid.ParseStrict(first.ID)
	if err != nil {
		t.Fatalf("expected ulid id, got %q: %v", first.ID, err)
	}
	if ulid.Time(id.Time()).UnixMilli() != h.clock.Now().Add(-time.Second).UnixMilli() {
		t.Fatalf("ulid timestamp does not match event time")
	}
	if first.ID >= second.ID {
		t.Fatalf("expected lexically increasing ids, got %s then %s", first.ID, second.ID)
	}
	if first.UserID == nil || *first.UserID != "user-1" || first.Email == nil || first.IPAddress != testMeta.IPAddress {
		t.Fatalf("unexpected event fields: %+v", first)
	}
	if first.Metadata["family_id"] != "fam-1" {
		t.Fatalf("expected metadata to be kept, got %+v", first.Metadata)
	}
	if second.UserID != nil || second.Email != nil || second.Metadata != nil {
		t.Fatalf("expected empty optional fields, got %+v", second)
	}
}

func TestRecordRetriesThenFails(t *testing.T) {
	h := newServiceHarness(t, harnessConfig{})
	h.events.failures = 2
	if err := h.eventLog.Record(context.Background(), SecurityEventInput{Type: domain.EventTokenRotated}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	h.events.failures = 3
	if err := h.eventLog.Record(context.Background(), SecurityEventInput{Type: domain.EventTokenRotated}); err == nil {
		t.Fatal("expected failure after max attempts")
	}
	if h.events.failures != 0 {
		t.Fatalf("expected all three attempts to be used, %d left", h.events.failures)
	}
}

func TestRecordTxSingleAttempt(t *testing.T) {
	h := newServiceHarness(t, harnessConfig{})
	h.events.failures = 1
	if err := h.eventLog.RecordTx(context.Background(), SecurityEventInput{Type: domain.EventTokenRotated}); err == nil {
		t.Fatal("expected RecordTx to fail without retry")
	}
	if len(h.events.events) != 0 {
		t.Fatal("expected no event written")
	}
}
