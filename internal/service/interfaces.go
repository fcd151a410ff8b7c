package service

import (
	"context"
	"time"

	"github.com/sandeepkv93/session-guard/internal/domain"
)

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AccessTokenSigner interface {
	SignAccessToken(userID, familyID string, ttl time.Duration) (string, time.Time, error)
}

type ChallengeTokens interface {
	SignChallengeToken(userID string, ttl time.Duration) (string, error)
	ParseChallengeToken(raw string) (string, error)
}

type TOTPVerifier interface {
	VerifyCode(ctx context.Context, userID, code string) (bool, error)
}

type PasswordVerifier interface {
	Verify(hash, password string) bool
}

type sessionStarter interface {
	Issue(ctx context.Context, user *domain.User, meta RequestMeta) (*AuthResult, error)
}

// RequestMeta is the connection metadata captured with every operation.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type AuthResult struct {
	UserID           string    `json:"user_id"`
	FamilyID         string    `json:"family_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	NewDevice        bool      `json:"new_device"`
}
