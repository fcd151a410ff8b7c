package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"
)

type SessionIssuerConfig struct {
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	MaxSessions int
}

// SessionIssuer is where every successful authentication ends: it starts a
// token family, applies the concurrent-session cap and tracks the device.
type SessionIssuer struct {
	engine   *TokenFamilyEngine
	enforcer *SessionEnforcer
	devices  *DeviceTracker
	tokens   AccessTokenSigner
	tx       TxRunner
	events   *SecurityEventLog
	logger   *slog.Logger
	cfg      SessionIssuerConfig
}

func NewSessionIssuer(
	engine *TokenFamilyEngine,
	enforcer *SessionEnforcer,
	devices *DeviceTracker,
	tokens AccessTokenSigner,
	tx TxRunner,
	events *SecurityEventLog,
	logger *slog.Logger,
	cfg SessionIssuerConfig,
) *SessionIssuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionIssuer{
		engine:   engine,
		enforcer: enforcer,
		devices:  devices,
		tokens:   tokens,
		tx:       tx,
		events:   events,
		logger:   logger,
		cfg:      cfg,
	}
}

// Issue creates the family and its access token in one transaction so that
// neither can exist without the other.
func (s *SessionIssuer) Issue(ctx context.Context, user *domain.User, meta RequestMeta) (*AuthResult, error) {
	fingerprint := s.devices.Fingerprint(meta.IPAddress, meta.UserAgent)
	known, err := s.devices.IsKnownDevice(ctx, user.ID, fingerprint)
	if err != nil {
		return nil, err
	}

	var result *AuthResult
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		family, refresh, err := s.engine.CreateFamily(ctx, user.ID, meta, s.cfg.RefreshTTL)
		if err != nil {
			return err
		}
		access, accessExp, err := s.tokens.SignAccessToken(user.ID, family.ID, s.cfg.AccessTTL)
		if err != nil {
			return err
		}
		result = &AuthResult{
			UserID:           user.ID,
			FamilyID:         family.ID,
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     refresh.Value,
			RefreshExpiresAt: refresh.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindInternal {
			return nil, internalError("issue session", err)
		}
		return nil, err
	}

	evicted, err := s.enforcer.EnforceMaxConcurrentSessions(ctx, user.ID, s.cfg.MaxSessions)
	if err != nil {
		return nil, err
	}
	if evicted > 0 {
		s.logger.InfoContext(ctx, "session limit enforced", "user_id", user.ID, "revoked", evicted)
	}

	if err := s.devices.RecordAccess(ctx, user.ID, fingerprint, meta.IPAddress, meta.UserAgent); err != nil {
		return nil, err
	}
	if !known {
		result.NewDevice = true
		if err := s.events.Record(ctx, SecurityEventInput{
			Type:     domain.EventNewDeviceLogin,
			UserID:   user.ID,
			Email:    user.Email,
			Meta:     meta,
			Metadata: map[string]any{"family_id": result.FamilyID, "device_fingerprint": fingerprint},
		}); err != nil {
			return nil, internalError("record new device login", err)
		}
	}
	return result, nil
}

// Refresh rotates the presented refresh token and mints a matching access
// token.
func (s *SessionIssuer) Refresh(ctx context.Context, presented string, meta RequestMeta) (*AuthResult, error) {
	rotated, err := s.engine.Rotate(ctx, presented, meta)
	if err != nil {
		return nil, err
	}
	access, accessExp, err := s.tokens.SignAccessToken(rotated.UserID, rotated.Token.FamilyID, s.cfg.AccessTTL)
	if err != nil {
		return nil, internalError("sign access token", err)
	}
	fingerprint := s.devices.Fingerprint(meta.IPAddress, meta.UserAgent)
	if err := s.devices.RecordAccess(ctx, rotated.UserID, fingerprint, meta.IPAddress, meta.UserAgent); err != nil {
		return nil, err
	}
	return &AuthResult{
		UserID:           rotated.UserID,
		FamilyID:         rotated.Token.FamilyID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     rotated.Token.Value,
		RefreshExpiresAt: rotated.Token.ExpiresAt,
	}, nil
}
