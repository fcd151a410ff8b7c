package security

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sandeepkv93/session-guard/internal/clock"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

type SecretSource interface {
	TOTPSecret(ctx context.Context, userID string) (string, error)
}

type TOTPVerifier struct {
	secrets SecretSource
	clock   clock.Clock
	skew    uint
}

func NewTOTPVerifier(secrets SecretSource, clk clock.Clock, skew uint) *TOTPVerifier {
	if clk == nil {
		clk = clock.System()
	}
	return &TOTPVerifier{secrets: secrets, clock: clk, skew: skew}
}

// VerifyCode reports whether code is valid for the user's secret at the
// current time. Users without a secret never verify.
func (v *TOTPVerifier) VerifyCode(ctx context.Context, userID, code string) (bool, error) {
	secret, err := v.secrets.TOTPSecret(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load totp secret: %w", err)
	}
	if secret == "" {
		return false, nil
	}
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), secret, v.clock.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      v.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if errors.Is(err, otp.ErrValidateInputInvalidLength) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate totp code: %w", err)
	}
	return ok, nil
}
