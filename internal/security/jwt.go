package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/session-guard/internal/clock"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const PurposeTOTPChallenge = "totp_challenge"

var (
	// ErrTokenVerification covers signature, algorithm, issuer, audience and
	// expiry failures.
	ErrTokenVerification = errors.New("token verification failed")
	// ErrChallengeClaims means the token verified but is not a well formed
	// TOTP challenge.
	ErrChallengeClaims = errors.New("invalid challenge claims")
)

type Claims struct {
	TokenType string `json:"token_type"`
	FamilyID  string `json:"fid"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	issuer          string
	audience        string
	accessSecret    []byte
	challengeSecret []byte
	clock           clock.Clock
}

func NewJWTManager(issuer, audience, accessSecret, challengeSecret string, clk clock.Clock) *JWTManager {
	if clk == nil {
		clk = clock.System()
	}
	return &JWTManager{
		issuer:          issuer,
		audience:        audience,
		accessSecret:    []byte(accessSecret),
		challengeSecret: []byte(challengeSecret),
		clock:           clk,
	}
}

// SignAccessToken binds the access token to the token family it was issued
// with so logout can find the caller's family.
func (m *JWTManager) SignAccessToken(userID, familyID string, ttl time.Duration) (string, time.Time, error) {
	now := m.clock.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		TokenType: "access",
		FamilyID:  familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, m.keyFunc(m.accessSecret), m.parserOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenVerification, err)
	}
	if !tok.Valid {
		return nil, ErrTokenVerification
	}
	if claims.TokenType != "access" {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrTokenVerification, claims.TokenType)
	}
	return claims, nil
}

// SignPurposeToken signs a short-lived single-purpose token with the
// challenge key.
func (m *JWTManager) SignPurposeToken(purpose, userID string, ttl time.Duration) (string, error) {
	now := m.clock.Now()
	claims := jwt.MapClaims{
		"purpose": purpose,
		"user_id": userID,
		"iss":     m.issuer,
		"aud":     m.audience,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
		"jti":     uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.challengeSecret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", purpose, err)
	}
	return signed, nil
}

func (m *JWTManager) SignChallengeToken(userID string, ttl time.Duration) (string, error) {
	return m.SignPurposeToken(PurposeTOTPChallenge, userID, ttl)
}

// ParseChallengeToken returns the user ID of a valid TOTP challenge.
// Cryptographic failures wrap ErrTokenVerification; claim shape failures
// wrap ErrChallengeClaims.
func (m *JWTManager) ParseChallengeToken(raw string) (string, error) {
	claims := jwt.MapClaims{}
	opts := append(m.parserOptions(), jwt.WithExpirationRequired())
	tok, err := jwt.ParseWithClaims(raw, claims, m.keyFunc(m.challengeSecret), opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenVerification, err)
	}
	if !tok.Valid {
		return "", ErrTokenVerification
	}
	purpose, ok := claims["purpose"].(string)
	if !ok || purpose != PurposeTOTPChallenge {
		return "", fmt.Errorf("%w: unexpected purpose", ErrChallengeClaims)
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("%w: missing user_id", ErrChallengeClaims)
	}
	return userID, nil
}

func (m *JWTManager) keyFunc(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}
}

func (m *JWTManager) parserOptions() []jwt.ParserOption {
	return []jwt.ParserOption{
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithTimeFunc(m.clock.Now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
}
