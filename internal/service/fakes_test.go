package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandeepkv93/session-guard/internal/clock"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/notify"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"github.com/sandeepkv93/session-guard/internal/security"
)

type inMemoryTx struct{ mu sync.Mutex }

type inMemoryTxKey struct{}

func (m *inMemoryTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inMemoryTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(context.WithValue(ctx, inMemoryTxKey{}, true))
}

type inMemoryFamilyRepo struct {
	mu       sync.Mutex
	calls    atomic.Int64
	families map[string]*domain.TokenFamily
	tokens   map[string]*domain.RefreshToken
	byHash   map[string]string
}

func newInMemoryFamilyRepo() *inMemoryFamilyRepo {
	return &inMemoryFamilyRepo{
		families: map[string]*domain.TokenFamily{},
		tokens:   map[string]*domain.RefreshToken{},
		byHash:   map[string]string{},
	}
}

func (r *inMemoryFamilyRepo) CreateFamily(_ context.Context, f *domain.TokenFamily) error {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := *f
	r.families[f.ID] = &copy
	return nil
}

func (r *inMemoryFamilyRepo) CreateToken(_ context.Context, t *domain.RefreshToken) error {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := *t
	r.tokens[t.ID] = &copy
	r.byHash[t.TokenHash] = t.ID
	return nil
}

func (r *inMemoryFamilyRepo) FindTokenByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHash[hash]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	copy := *r.tokens[id]
	return &copy, nil
}

func (r *inMemoryFamilyRepo) FindFamilyByID(_ context.Context, familyID string) (*domain.TokenFamily, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[familyID]
	if !ok {
		return nil, repository.ErrFamilyNotFound
	}
	copy := *f
	return &copy, nil
}

func (r *inMemoryFamilyRepo) LockFamily(ctx context.Context, familyID string) (*domain.TokenFamily, error) {
	return r.FindFamilyByID(ctx, familyID)
}

func (r *inMemoryFamilyRepo) ListActiveByUser(_ context.Context, userID string) ([]domain.TokenFamily, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TokenFamily
	for _, f := range r.families {
		if f.UserID == userID && f.RevokedAt == nil {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *inMemoryFamilyRepo) ListTokensByFamily(_ context.Context, familyID string) ([]domain.RefreshToken, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RefreshToken
	for _, t := range r.tokens {
		if t.FamilyID == familyID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *inMemoryFamilyRepo) MarkTokenConsumed(_ context.Context, tokenID string, at time.Time) error {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenID]
	if !ok || t.ConsumedAt != nil {
		return repository.ErrTokenNotCurrent
	}
	t.ConsumedAt = &at
	return nil
}

func (r *inMemoryFamilyRepo) AdvanceCurrentToken(_ context.Context, familyID, expectedTokenID, newTokenID string, latestExpiresAt, lastActiveAt time.Time) error {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[familyID]
	if !ok || f.RevokedAt != nil || f.CurrentTokenID != expectedTokenID {
		return repository.ErrTokenNotCurrent
	}
	f.CurrentTokenID = newTokenID
	f.LatestExpiresAt = latestExpiresAt
	f.LastActiveAt = lastActiveAt
	return nil
}

func (r *inMemoryFamilyRepo) RevokeFamily(_ context.Context, familyID string, reason domain.RevokeReason, at time.Time) (bool, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[familyID]
	if !ok || f.RevokedAt != nil {
		return false, nil
	}
	f.RevokedAt = &at
	f.RevokeReason = &reason
	return true, nil
}

func (r *inMemoryFamilyRepo) family(t *testing.T, id string) domain.TokenFamily {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[id]
	if !ok {
		t.Fatalf("family %s not found", id)
	}
	return *f
}

type inMemoryUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newInMemoryUserRepo(users ...*domain.User) *inMemoryUserRepo {
	r := &inMemoryUserRepo{users: map[string]*domain.User{}}
	for _, u := range users {
		copy := *u
		r.users[u.ID] = &copy
	}
	return r
}

func (r *inMemoryUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copy := *u
	return &copy, nil
}

func (r *inMemoryUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			copy := *u
			return &copy, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *inMemoryUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy := *user
	r.users[user.ID] = &copy
	return nil
}

func (r *inMemoryUserRepo) delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
}

type inMemoryEventRepo struct {
	mu       sync.Mutex
	events   []domain.SecurityEvent
	failures int
}

func (r *inMemoryEventRepo) Append(_ context.Context, e *domain.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("event store unavailable")
	}
	r.events = append(r.events, *e)
	return nil
}

func (r *inMemoryEventRepo) List(_ context.Context, q repository.SecurityEventQuery) (repository.PageResult[domain.SecurityEvent], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SecurityEvent
	for _, e := range r.events {
		if q.EventType != "" && e.EventType != q.EventType {
			continue
		}
		out = append(out, e)
	}
	return repository.PageResult[domain.SecurityEvent]{Items: out, Total: int64(len(out))}, nil
}

func (r *inMemoryEventRepo) ofType(t domain.SecurityEventType) []domain.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SecurityEvent
	for _, e := range r.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

type inMemoryDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*domain.TrustedDevice
}

func newInMemoryDeviceRepo() *inMemoryDeviceRepo {
	return &inMemoryDeviceRepo{devices: map[string]*domain.TrustedDevice{}}
}

func (r *inMemoryDeviceRepo) Upsert(_ context.Context, d *domain.TrustedDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := d.UserID + "|" + d.DeviceFingerprint
	if existing, ok := r.devices[key]; ok {
		existing.LastSeenAt = d.LastSeenAt
		existing.IPAddress = d.IPAddress
		existing.UserAgent = d.UserAgent
		return nil
	}
	copy := *d
	r.devices[key] = &copy
	return nil
}

func (r *inMemoryDeviceRepo) Find(_ context.Context, userID, fingerprint string) (*domain.TrustedDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[userID+"|"+fingerprint]
	if !ok {
		return nil, repository.ErrDeviceNotFound
	}
	copy := *d
	return &copy, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.TokenReuseAlert
	err    error
}

func (n *recordingNotifier) SendTokenReuseAlert(_ context.Context, alert notify.TokenReuseAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type harnessConfig struct {
	maxSessions int
	idleDays    int
	signer      AccessTokenSigner
}

type serviceHarness struct {
	clock    *clock.Manual
	families *inMemoryFamilyRepo
	users    *inMemoryUserRepo
	events   *inMemoryEventRepo
	devices  *inMemoryDeviceRepo
	notifier *recordingNotifier
	jwt      *security.JWTManager
	eventLog *SecurityEventLog
	engine   *TokenFamilyEngine
	enforcer *SessionEnforcer
	tracker  *DeviceTracker
	issuer   *SessionIssuer
}

var testUser = &domain.User{ID: "user-1", Email: "alice@example.com"}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newServiceHarness(t *testing.T, cfg harnessConfig) *serviceHarness {
	t.Helper()
	h := &serviceHarness{
		clock:    clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		families: newInMemoryFamilyRepo(),
		users:    newInMemoryUserRepo(testUser),
		events:   &inMemoryEventRepo{},
		devices:  newInMemoryDeviceRepo(),
		notifier: &recordingNotifier{},
	}
	tx := &inMemoryTx{}
	logger := discardLogger()
	h.jwt = security.NewJWTManager("iss", "aud", strings.Repeat("a", 32), strings.Repeat("c", 32), h.clock)
	h.eventLog = NewSecurityEventLog(h.events, h.clock, logger, SecurityEventLogConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond})
	h.engine = NewTokenFamilyEngine(h.families, h.users, tx, h.eventLog, h.notifier, h.clock, logger, EngineConfig{
		RefreshTTL:      7 * 24 * time.Hour,
		Pepper:          "test-pepper-value",
		IdleTimeoutDays: cfg.idleDays,
	})
	h.enforcer = NewSessionEnforcer(h.families, h.engine, h.clock)
	h.tracker = NewDeviceTracker(h.devices, h.clock)
	signer := cfg.signer
	if signer == nil {
		signer = h.jwt
	}
	h.issuer = NewSessionIssuer(h.engine, h.enforcer, h.tracker, signer, tx, h.eventLog, logger, SessionIssuerConfig{
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  7 * 24 * time.Hour,
		MaxSessions: cfg.maxSessions,
	})
	return h
}

var testMeta = RequestMeta{IPAddress: "10.0.0.1", UserAgent: "test-agent"}
