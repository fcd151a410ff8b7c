package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/session-guard/internal/clock"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/notify"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"github.com/sandeepkv93/session-guard/internal/security"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type EngineConfig struct {
	RefreshTTL      time.Duration
	TokenBytes      int
	Pepper          string
	IdleTimeoutDays int
}

// IssuedToken carries a refresh token value exactly once, to the caller
// that minted it. Only its hash is persisted.
type IssuedToken struct {
	FamilyID  string
	TokenID   string
	Value     string
	ExpiresAt time.Time
}

type RotateResult struct {
	UserID string
	Token  IssuedToken
}

// TokenFamilyEngine owns the refresh-token family state machine: issue,
// rotate, detect reuse and revoke.
type TokenFamilyEngine struct {
	families repository.FamilyRepository
	users    repository.UserRepository
	tx       TxRunner
	events   *SecurityEventLog
	notifier notify.Notifier
	clock    clock.Clock
	logger   *slog.Logger
	cfg      EngineConfig
}

// maxPresentedTokenLength bounds the input hashed on every refresh call.
const maxPresentedTokenLength = 512

var errReuse = errors.New("refresh token reuse")

func NewTokenFamilyEngine(
	families repository.FamilyRepository,
	users repository.UserRepository,
	tx TxRunner,
	events *SecurityEventLog,
	notifier notify.Notifier,
	clk clock.Clock,
	logger *slog.Logger,
	cfg EngineConfig,
) *TokenFamilyEngine {
	if cfg.TokenBytes == 0 {
		cfg.TokenBytes = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenFamilyEngine{
		families: families,
		users:    users,
		tx:       tx,
		events:   events,
		notifier: notifier,
		clock:    clk,
		logger:   logger,
		cfg:      cfg,
	}
}

// CreateFamily starts a new active family with its first token. A ttl of
// zero uses the configured refresh TTL. It joins the caller's transaction
// when there is one.
func (e *TokenFamilyEngine) CreateFamily(ctx context.Context, userID string, meta RequestMeta, ttl time.Duration) (*domain.TokenFamily, *IssuedToken, error) {
	if ttl <= 0 {
		ttl = e.cfg.RefreshTTL
	}
	value, err := security.NewRefreshToken(e.cfg.TokenBytes)
	if err != nil {
		return nil, nil, internalError("create family", err)
	}
	now := e.clock.Now()
	tok := &domain.RefreshToken{
		ID:        uuid.NewString(),
		FamilyID:  uuid.NewString(),
		TokenHash: security.HashRefreshToken(value, e.cfg.Pepper),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	family := &domain.TokenFamily{
		ID:              tok.FamilyID,
		UserID:          userID,
		CurrentTokenID:  tok.ID,
		LatestExpiresAt: tok.ExpiresAt,
		LastActiveAt:    now,
		IPAddress:       meta.IPAddress,
		UserAgent:       meta.UserAgent,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = e.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := e.families.CreateFamily(ctx, family); err != nil {
			return err
		}
		return e.families.CreateToken(ctx, tok)
	})
	if err != nil {
		return nil, nil, internalError("create family", err)
	}
	return family, &IssuedToken{FamilyID: family.ID, TokenID: tok.ID, Value: value, ExpiresAt: tok.ExpiresAt}, nil
}

// Rotate exchanges the current refresh token of a family for a new one.
// Presenting a token that is no longer current revokes the whole family.
func (e *TokenFamilyEngine) Rotate(ctx context.Context, presented string, meta RequestMeta) (*RotateResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "token_family.rotate")
	defer span.End()

	res, status, err := e.rotate(ctx, presented, meta)
	observability.RecordAuthRefresh(ctx, status)
	span.SetAttributes(attribute.String("refresh.status", status))
	if err != nil {
		if KindOf(err) == KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rotate failed")
		}
		return nil, err
	}
	return res, nil
}

func (e *TokenFamilyEngine) rotate(ctx context.Context, presented string, meta RequestMeta) (*RotateResult, string, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" || len(presented) > maxPresentedTokenLength {
		return nil, "invalid", ErrInvalidCredential
	}
	tok, err := e.families.FindTokenByHash(ctx, security.HashRefreshToken(presented, e.cfg.Pepper))
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, "invalid", ErrInvalidCredential
		}
		return nil, "error", internalError("find refresh token", err)
	}
	family, err := e.families.FindFamilyByID(ctx, tok.FamilyID)
	if err != nil {
		if errors.Is(err, repository.ErrFamilyNotFound) {
			return nil, "invalid", ErrInvalidCredential
		}
		return nil, "error", internalError("find token family", err)
	}
	if family.IsRevoked() {
		return nil, "revoked", ErrSessionRevoked
	}
	if tok.IsConsumed() || family.CurrentTokenID != tok.ID {
		return nil, "reuse_detected", e.burnFamily(ctx, family, meta)
	}

	now := e.clock.Now()
	if !tok.ExpiresAt.After(now) {
		return nil, "expired", ErrInvalidCredential
	}
	if e.cfg.IdleTimeoutDays > 0 && IsIdle(now, family.LastActiveAt, e.cfg.IdleTimeoutDays) {
		if _, err := e.RevokeFamily(ctx, family.ID, domain.RevokeReasonIdleTimeout); err != nil {
			return nil, "error", err
		}
		return nil, "idle", ErrSessionRevoked
	}

	value, err := security.NewRefreshToken(e.cfg.TokenBytes)
	if err != nil {
		return nil, "error", internalError("mint refresh token", err)
	}
	next := &domain.RefreshToken{
		ID:        uuid.NewString(),
		FamilyID:  family.ID,
		TokenHash: security.HashRefreshToken(value, e.cfg.Pepper),
		ExpiresAt: now.Add(e.cfg.RefreshTTL),
		CreatedAt: now,
	}

	err = e.tx.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := e.families.LockFamily(ctx, family.ID)
		if err != nil {
			return err
		}
		if locked.IsRevoked() {
			return repository.ErrFamilyRevoked
		}
		if locked.CurrentTokenID != tok.ID {
			return errReuse
		}
		if err := e.families.MarkTokenConsumed(ctx, tok.ID, now); err != nil {
			return err
		}
		if err := e.families.CreateToken(ctx, next); err != nil {
			return err
		}
		if err := e.families.AdvanceCurrentToken(ctx, family.ID, tok.ID, next.ID, next.ExpiresAt, now); err != nil {
			return err
		}
		return e.events.RecordTx(ctx, SecurityEventInput{
			Type:     domain.EventTokenRotated,
			UserID:   family.UserID,
			Meta:     meta,
			Metadata: map[string]any{"family_id": family.ID, "token_id": next.ID},
		})
	})
	switch {
	case err == nil:
	case errors.Is(err, errReuse), errors.Is(err, repository.ErrTokenNotCurrent):
		return nil, "reuse_detected", e.burnFamily(ctx, family, meta)
	case errors.Is(err, repository.ErrFamilyRevoked):
		return nil, "revoked", ErrSessionRevoked
	default:
		return nil, "error", internalError("rotate refresh token", err)
	}

	return &RotateResult{
		UserID: family.UserID,
		Token:  IssuedToken{FamilyID: family.ID, TokenID: next.ID, Value: value, ExpiresAt: next.ExpiresAt},
	}, "success", nil
}

// burnFamily handles a replayed token: the family is revoked together with
// its critical audit record, then the owner is alerted. The transaction is
// retried under the audit policy; if it still fails the family is revoked
// without the record and the caller gets an internal error.
func (e *TokenFamilyEngine) burnFamily(ctx context.Context, family *domain.TokenFamily, meta RequestMeta) error {
	email := ""
	if u, err := e.users.FindByID(ctx, family.UserID); err == nil {
		email = u.Email
	} else {
		e.logger.WarnContext(ctx, "owner lookup for reuse alert failed", "user_id", family.UserID, "error", err)
	}

	now := e.clock.Now()
	changed := false
	err := e.events.Retry(ctx, func() error {
		return e.tx.RunInTx(ctx, func(ctx context.Context) error {
			var err error
			changed, err = e.families.RevokeFamily(ctx, family.ID, domain.RevokeReasonTokenReuse, now)
			if err != nil || !changed {
				return err
			}
			return e.events.RecordTx(ctx, SecurityEventInput{
				Type:     domain.EventTokenReuseDetected,
				UserID:   family.UserID,
				Email:    email,
				Meta:     meta,
				Metadata: map[string]any{"family_id": family.ID},
			})
		})
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "audited revoke after token reuse failed", "family_id", family.ID, "error", err)
		if _, revokeErr := e.families.RevokeFamily(ctx, family.ID, domain.RevokeReasonTokenReuse, now); revokeErr != nil {
			e.logger.ErrorContext(ctx, "revoke family after token reuse failed", "family_id", family.ID, "error", revokeErr)
			return internalError("revoke reused family", errors.Join(err, revokeErr))
		}
		observability.RecordReuseDetected(ctx)
		return internalError("record token reuse", err)
	}
	if !changed {
		return ErrSessionRevoked
	}

	observability.RecordReuseDetected(ctx)
	e.logger.WarnContext(ctx, "refresh token reuse detected",
		"user_id", family.UserID,
		"family_id", family.ID,
		"ip_address", meta.IPAddress,
	)
	if e.notifier != nil && email != "" {
		alert := notify.TokenReuseAlert{
			UserID:     family.UserID,
			Email:      email,
			FamilyID:   family.ID,
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
			DetectedAt: now,
		}
		if err := e.notifier.SendTokenReuseAlert(ctx, alert); err != nil {
			e.logger.WarnContext(ctx, "token reuse alert delivery failed", "user_id", family.UserID, "error", err)
		}
	}
	return ErrSessionRevoked
}

// Revoke terminates a family. Revoking an unknown or already revoked family
// is a no-op.
func (e *TokenFamilyEngine) Revoke(ctx context.Context, familyID string, reason domain.RevokeReason) error {
	_, err := e.RevokeFamily(ctx, familyID, reason)
	return err
}

// RevokeFamily is Revoke that also reports whether this call changed state.
// A token_family_revoked event is written in the same transaction, except
// for reuse, which has its own event.
func (e *TokenFamilyEngine) RevokeFamily(ctx context.Context, familyID string, reason domain.RevokeReason) (bool, error) {
	if !reason.Valid() {
		return false, internalError("revoke family", errors.New("unknown revoke reason "+string(reason)))
	}
	now := e.clock.Now()
	changed := false
	err := e.tx.RunInTx(ctx, func(ctx context.Context) error {
		family, err := e.families.LockFamily(ctx, familyID)
		if errors.Is(err, repository.ErrFamilyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		changed, err = e.families.RevokeFamily(ctx, familyID, reason, now)
		if err != nil || !changed || reason == domain.RevokeReasonTokenReuse {
			return err
		}
		return e.events.RecordTx(ctx, SecurityEventInput{
			Type:     domain.EventTokenFamilyRevoked,
			UserID:   family.UserID,
			Meta:     RequestMeta{IPAddress: family.IPAddress, UserAgent: family.UserAgent},
			Metadata: map[string]any{"family_id": familyID, "reason": string(reason)},
		})
	})
	if err != nil {
		return false, internalError("revoke family", err)
	}
	return changed, nil
}

// RevokeForUser revokes a family on behalf of its owner. Families that do
// not exist or belong to someone else are indistinguishable to the caller.
func (e *TokenFamilyEngine) RevokeForUser(ctx context.Context, userID, familyID string, reason domain.RevokeReason) error {
	family, err := e.families.FindFamilyByID(ctx, familyID)
	if err != nil {
		if errors.Is(err, repository.ErrFamilyNotFound) {
			return ErrForbidden
		}
		return internalError("find token family", err)
	}
	if family.UserID != userID {
		return ErrForbidden
	}
	return e.Revoke(ctx, familyID, reason)
}

// RevokeAllExcept revokes every active family of the user other than
// keepFamilyID and returns how many were revoked.
func (e *TokenFamilyEngine) RevokeAllExcept(ctx context.Context, userID, keepFamilyID string) (int, error) {
	families, err := e.families.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, internalError("list active families", err)
	}
	count := 0
	for _, f := range families {
		if f.ID == keepFamilyID {
			continue
		}
		changed, err := e.RevokeFamily(ctx, f.ID, domain.RevokeReasonLogoutOthers)
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	return count, nil
}

func (e *TokenFamilyEngine) ActiveFamilies(ctx context.Context, userID string) ([]domain.TokenFamily, error) {
	families, err := e.families.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, internalError("list active families", err)
	}
	return families, nil
}
