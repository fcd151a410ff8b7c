package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/session-guard/internal/clock"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/observability"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"github.com/sandeepkv93/session-guard/internal/security"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type ChallengeConfig struct {
	ChallengeTTL      time.Duration
	MaxFailedAttempts int
	AttemptWindow     time.Duration
}

type Challenge struct {
	Token     string    `json:"challenge_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChallengeService runs the second-factor step between a verified password
// and an issued session. The signed challenge token is its only state.
type ChallengeService struct {
	tokens   ChallengeTokens
	verifier TOTPVerifier
	users    repository.UserRepository
	issuer   sessionStarter
	attempts AttemptCounter
	events   *SecurityEventLog
	clock    clock.Clock
	logger   *slog.Logger
	cfg      ChallengeConfig
}

func NewChallengeService(
	tokens ChallengeTokens,
	verifier TOTPVerifier,
	users repository.UserRepository,
	issuer *SessionIssuer,
	attempts AttemptCounter,
	events *SecurityEventLog,
	clk clock.Clock,
	logger *slog.Logger,
	cfg ChallengeConfig,
) *ChallengeService {
	return newChallengeService(tokens, verifier, users, issuer, attempts, events, clk, logger, cfg)
}

func newChallengeService(
	tokens ChallengeTokens,
	verifier TOTPVerifier,
	users repository.UserRepository,
	issuer sessionStarter,
	attempts AttemptCounter,
	events *SecurityEventLog,
	clk clock.Clock,
	logger *slog.Logger,
	cfg ChallengeConfig,
) *ChallengeService {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChallengeService{
		tokens:   tokens,
		verifier: verifier,
		users:    users,
		issuer:   issuer,
		attempts: attempts,
		events:   events,
		clock:    clk,
		logger:   logger,
		cfg:      cfg,
	}
}

func (s *ChallengeService) IssueChallenge(ctx context.Context, userID string) (*Challenge, error) {
	raw, err := s.tokens.SignChallengeToken(userID, s.cfg.ChallengeTTL)
	if err != nil {
		return nil, internalError("sign challenge token", err)
	}
	observability.RecordTOTPChallenge(ctx, "issued")
	return &Challenge{Token: raw, ExpiresAt: s.clock.Now().Add(s.cfg.ChallengeTTL)}, nil
}

// VerifyChallenge completes a parked login. No token of any kind is created
// unless the challenge and the code both check out.
func (s *ChallengeService) VerifyChallenge(ctx context.Context, challengeToken, code string, meta RequestMeta) (*AuthResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "totp_challenge.verify")
	defer span.End()

	res, outcome, err := s.verify(ctx, challengeToken, code, meta)
	observability.RecordTOTPChallenge(ctx, outcome)
	span.SetAttributes(attribute.String("challenge.outcome", outcome))
	if err != nil {
		if KindOf(err) == KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, "challenge verification failed")
			s.logger.ErrorContext(ctx, "totp challenge verification failed", "error", err)
			return nil, ErrInternal
		}
		return nil, err
	}
	return res, nil
}

func (s *ChallengeService) verify(ctx context.Context, challengeToken, code string, meta RequestMeta) (*AuthResult, string, error) {
	userID, err := s.tokens.ParseChallengeToken(challengeToken)
	switch {
	case err == nil:
	case errors.Is(err, security.ErrChallengeClaims):
		return nil, "bad_claims", authError(KindInvalidToken, err)
	case errors.Is(err, security.ErrTokenVerification):
		return nil, "bad_signature", authError(KindInvalidToken, err)
	default:
		return nil, "error", internalError("parse challenge token", err)
	}

	// Each verification reserves an attempt before the code is checked, so
	// concurrent requests cannot all pass a stale count.
	attemptKey := "totp:" + userID
	var attempt int64
	if s.throttled() {
		attempt, err = s.attempts.Increment(ctx, attemptKey, s.cfg.AttemptWindow)
		if err != nil {
			return nil, "error", internalError("count totp attempt", err)
		}
		if attempt > int64(s.cfg.MaxFailedAttempts) {
			return nil, "locked", ErrRateLimited
		}
	}

	ok, err := s.verifier.VerifyCode(ctx, userID, code)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, "unknown_user", authError(KindInvalidToken, err)
		}
		return nil, "error", internalError("verify totp code", err)
	}
	if !ok {
		if err := s.recordFailure(ctx, userID, attempt, meta); err != nil {
			return nil, "error", err
		}
		return nil, "invalid_code", ErrInvalidCode
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, "unknown_user", authError(KindInvalidToken, err)
		}
		return nil, "error", internalError("find user", err)
	}
	if s.throttled() {
		if err := s.attempts.Reset(ctx, attemptKey); err != nil {
			return nil, "error", internalError("reset totp attempts", err)
		}
	}

	res, err := s.issuer.Issue(ctx, user, meta)
	if err != nil {
		if KindOf(err) == KindInternal {
			return nil, "error", err
		}
		return nil, "error", internalError("issue session", err)
	}
	return res, "success", nil
}

func (s *ChallengeService) recordFailure(ctx context.Context, userID string, n int64, meta RequestMeta) error {
	if err := s.events.Record(ctx, SecurityEventInput{
		Type:     domain.EventTOTPChallengeFailed,
		UserID:   userID,
		Meta:     meta,
		Metadata: map[string]any{"failed_attempts": n},
	}); err != nil {
		return internalError("record totp failure", err)
	}
	if s.throttled() && n == int64(s.cfg.MaxFailedAttempts) {
		if err := s.events.Record(ctx, SecurityEventInput{
			Type:     domain.EventAccountLocked,
			UserID:   userID,
			Meta:     meta,
			Metadata: map[string]any{"failed_attempts": n, "window_seconds": int64(s.cfg.AttemptWindow.Seconds())},
		}); err != nil {
			return internalError("record account lock", err)
		}
	}
	return nil
}

func (s *ChallengeService) throttled() bool {
	return s.cfg.MaxFailedAttempts > 0 && s.attempts != nil
}
