package service

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failures callers of this package handle.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidCredential
	KindSessionRevoked
	KindInvalidCode
	KindInvalidToken
	KindForbidden
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredential:
		return "invalid_credential"
	case KindSessionRevoked:
		return "session_revoked"
	case KindInvalidCode:
		return "invalid_code"
	case KindInvalidToken:
		return "invalid_token"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

type AuthError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches any AuthError of the same kind, so errors.Is(err,
// ErrSessionRevoked) holds for every session-revoked failure.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidCredential = &AuthError{Kind: KindInvalidCredential, Message: "invalid credentials"}
	ErrSessionRevoked    = &AuthError{Kind: KindSessionRevoked, Message: "session revoked"}
	ErrInvalidCode       = &AuthError{Kind: KindInvalidCode, Message: "invalid verification code"}
	ErrInvalidToken      = &AuthError{Kind: KindInvalidToken, Message: "invalid or expired token"}
	ErrForbidden         = &AuthError{Kind: KindForbidden, Message: "forbidden"}
	ErrRateLimited       = &AuthError{Kind: KindRateLimited, Message: "too many attempts"}
	ErrInternal          = &AuthError{Kind: KindInternal, Message: "internal error"}
)

func authError(kind ErrorKind, cause error) error {
	base := sentinelFor(kind)
	return &AuthError{Kind: kind, Message: base.Message, Err: cause}
}

func internalError(op string, err error) error {
	return &AuthError{Kind: KindInternal, Message: ErrInternal.Message, Err: fmt.Errorf("%s: %w", op, err)}
}

func sentinelFor(kind ErrorKind) *AuthError {
	switch kind {
	case KindInvalidCredential:
		return ErrInvalidCredential
	case KindSessionRevoked:
		return ErrSessionRevoked
	case KindInvalidCode:
		return ErrInvalidCode
	case KindInvalidToken:
		return ErrInvalidToken
	case KindForbidden:
		return ErrForbidden
	case KindRateLimited:
		return ErrRateLimited
	default:
		return ErrInternal
	}
}

// KindOf classifies any error; anything that is not an AuthError is internal.
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}
