package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/session-guard/internal/clock"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"github.com/sandeepkv93/session-guard/internal/security"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestSessionLimitScenario(t *testing.T) {
	h := newServiceHarness(t, harnessConfig{maxSessions: 1})
	ctx := context.Background()

	first, err := h.issuer.Issue(ctx, testUser, testMeta)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	h.clock.Advance(time.Minute)
	second, err := h.issuer.Issue(ctx, testUser, testMeta)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	f := h.families.family(t, first.FamilyID)
	if f.RevokeReason == nil || *f.RevokeReason != domain.RevokeReasonSessionLimit {
		t.Fatalf("expected first family evicted for session limit, got %+v", f.RevokeReason)
	}
	if _, err := h.issuer.Refresh(ctx, first.RefreshToken, testMeta); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("refresh with first family: expected ErrSessionRevoked, got %v", err)
	}
	refreshed, err := h.issuer.Refresh(ctx, second.RefreshToken, testMeta)
	if err != nil {
		t.Fatalf("refresh with second family: %v", err)
	}
	if refreshed.RefreshToken == second.RefreshToken {
		t.Fatal("expected a new refresh token value")
	}
	if refreshed.FamilyID != second.FamilyID {
		t.Fatalf("expected rotation within family %s, got %s", second.FamilyID, refreshed.FamilyID)
	}
	claims, err := h.jwt.ParseAccessToken(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Subject != testUser.ID || claims.FamilyID != second.FamilyID {
		t.Fatalf("unexpected access claims %+v", claims)
	}
}

func TestIssueFlagsNewDeviceOnce(t *testing.T) {
	h := newServiceHarness(t, harnessConfig{})
	ctx := context.Background()

	first, err := h.issuer.Issue(ctx, testUser, testMeta)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !first.NewDevice {
		t.Fatal("expected first login from device to be new")
	}
	again, err := h.issuer.Issue(ctx, testUser, testMeta)
	if err != nil {
		t.Fatalf("issue again: %v", err)
	}
	if again.NewDevice {
		t.Fatal("expected repeat login to be from a known device")
	}
	other, err := h.issuer.Issue(ctx, testUser, RequestMeta{IPAddress: "10.9.9.9", UserAgent: "phone"})
	if err != nil {
		t.Fatalf("issue from other device: %v", err)
	}
	if !other.NewDevice {
		t.Fatal("expected different fingerprint to be new")
	}
	events := h.events.ofType(domain.EventNewDeviceLogin)
	if len(events) != 2 {
		t.Fatalf("expected 2 new_device_login events, got %d", len(events))
	}
	if events[0].Severity != domain.SeverityMedium {
		t.Fatalf("unexpected severity %s", events[0].Severity)
	}
}

func TestIssueSurvivesTransientAuditFailure(t *testing.T) {
	h := newServiceHarness(t, harnessConfig{})
	h.events.failures = 2
	if _, err := h.issuer.Issue(context.Background(), testUser, testMeta); err != nil {
		t.Fatalf("expected retry to absorb transient failures, got %v", err)
	}
	if got := len(h.events.ofType(domain.EventNewDeviceLogin)); got != 1 {
		t.Fatalf("expected new_device_login recorded after retries, got %d", got)
	}
}

func TestIssueFailsWhenAuditIsLost(t *testing.T) {
	h := newServiceHarness(t, harnessConfig{})
	h.events.failures = 10
	_, err := h.issuer.Issue(context.Background(), testUser, testMeta)
	if KindOf(err) != KindInternal {
		t.Fatalf("expected internal error after exhausting retries, got %v", err)
	}
}

type failingSigner struct{}

func (failingSigner) SignAccessToken(string, string, time.Duration) (string, time.Time, error) {
	return "", time.Time{}, errors.New("signing key unavailable")
}

func newSQLiteForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newSQLiteIssuer(t *testing.T, db *gorm.DB, signer AccessTokenSigner) (*SessionIssuer, *TokenFamilyEngine, *repository.GormFamilyRepository) {
	t.Helper()
	return newSQLiteIssuerWithEvents(t, db, signer, repository.NewSecurityEventRepository(db), 1)
}

func newSQLiteIssuerWithEvents(t *testing.T, db *gorm.DB, signer AccessTokenSigner, eventRepo repository.SecurityEventRepository, attempts uint) (*SessionIssuer, *TokenFamilyEngine, *repository.GormFamilyRepository) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := discardLogger()
	families := repository.NewFamilyRepository(db)
	users := repository.NewUserRepository(db)
	tx := repository.NewTxManager(db)
	events := NewSecurityEventLog(eventRepo, clk, logger, SecurityEventLogConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond})
	engine := NewTokenFamilyEngine(families, users, tx, events, &recordingNotifier{}, clk, logger, EngineConfig{
		RefreshTTL: 24 * time.Hour,
		Pepper:     "test-pepper-value",
	})
	enforcer := NewSessionEnforcer(families, engine, clk)
	tracker := NewDeviceTracker(repository.NewTrustedDeviceRepository(db), clk)
	issuer := NewSessionIssuer(engine, enforcer, tracker, signer, tx, events, logger, SessionIssuerConfig{
		AccessTTL:   time.Minute,
		RefreshTTL:  24 * time.Hour,
		MaxSessions: 3,
	})
	return issuer, engine, families
}

func TestIssueRollsBackFamilyWhenAccessTokenFails(t *testing.T) {
	db := newSQLiteForTest(t)
	issuer, _, _ := newSQLiteIssuer(t, db, failingSigner{})

	_, err := issuer.Issue(context.Background(), testUser, testMeta)
	if KindOf(err) != KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	var families, tokens int64
	if err := db.Model(&domain.TokenFamily{}).Count(&families).Error; err != nil {
		t.Fatalf("count families: %v", err)
	}
	if err := db.Model(&domain.RefreshToken{}).Count(&tokens).Error; err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if families != 0 || tokens != 0 {
		t.Fatalf("expected no orphaned rows, families=%d tokens=%d", families, tokens)
	}
}

func TestRotateAgainstSQLite(t *testing.T) {
	db := newSQLiteForTest(t)
	jwtMgr := security.NewJWTManager("iss", "aud", strings.Repeat("a", 32), strings.Repeat("c", 32), nil)
	issuer, _, families := newSQLiteIssuer(t, db, jwtMgr)
	ctx := context.Background()
	if err := repository.NewUserRepository(db).Create(ctx, &domain.User{ID: testUser.ID, Email: testUser.Email}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	first, err := issuer.Issue(ctx, testUser, testMeta)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := issuer.Refresh(ctx, first.RefreshToken, testMeta)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := issuer.Refresh(ctx, first.RefreshToken, testMeta); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("replay: expected ErrSessionRevoked, got %v", err)
	}
	if _, err := issuer.Refresh(ctx, second.RefreshToken, testMeta); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("successor after burn: expected ErrSessionRevoked, got %v", err)
	}
	f, err := families.FindFamilyByID(ctx, first.FamilyID)
	if err != nil {
		t.Fatalf("find family: %v", err)
	}
	if f.RevokeReason == nil || *f.RevokeReason != domain.RevokeReasonTokenReuse {
		t.Fatalf("expected reuse revoke, got %+v", f.RevokeReason)
	}
	var critical int64
	if err := db.Model(&domain.SecurityEvent{}).Where("severity = ?", domain.SeverityCritical).Count(&critical).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if critical != 1 {
		t.Fatalf("expected one critical event, got %d", critical)
	}
}
