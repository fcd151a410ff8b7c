package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sandeepkv93/session-guard/internal/repository"
)

// dummyPasswordHash keeps the unknown-email path as slow as a real
// comparison.
const dummyPasswordHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3ZzBz3ZLxD8x/Oe6r4Hq5Zy"

type LoginResult struct {
	ChallengeRequired bool        `json:"challenge_required"`
	Challenge         *Challenge  `json:"challenge,omitempty"`
	Session           *AuthResult `json:"session,omitempty"`
}

type LoginService struct {
	users      repository.UserRepository
	passwords  PasswordVerifier
	challenges *ChallengeService
	issuer     sessionStarter
}

func NewLoginService(users repository.UserRepository, passwords PasswordVerifier, challenges *ChallengeService, issuer *SessionIssuer) *LoginService {
	return &LoginService{users: users, passwords: passwords, challenges: challenges, issuer: issuer}
}

// Login verifies a password. Users with TOTP enabled get a challenge and
// no session; everyone else gets a session directly.
func (s *LoginService) Login(ctx context.Context, email, password string, meta RequestMeta) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredential
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.passwords.Verify(dummyPasswordHash, password)
			return nil, ErrInvalidCredential
		}
		return nil, internalError("find user by email", err)
	}
	if user.PasswordHash == "" || !s.passwords.Verify(user.PasswordHash, password) {
		return nil, ErrInvalidCredential
	}

	if user.TOTPEnabled {
		challenge, err := s.challenges.IssueChallenge(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		return &LoginResult{ChallengeRequired: true, Challenge: challenge}, nil
	}

	session, err := s.issuer.Issue(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Session: session}, nil
}
