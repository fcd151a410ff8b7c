package notify

import (
	"context"
	"log/slog"
	"time"
)

// TokenReuseAlert tells an account owner that a session was terminated
// because a rotated-out refresh token was presented again.
type TokenReuseAlert struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	FamilyID   string    `json:"family_id"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	DetectedAt time.Time `json:"detected_at"`
}

// Notifier delivery is best-effort. Callers log failures and carry on.
type Notifier interface {
	SendTokenReuseAlert(ctx context.Context, alert TokenReuseAlert) error
}

type LogNotifier struct{ logger *slog.Logger }

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendTokenReuseAlert(ctx context.Context, alert TokenReuseAlert) error {
	n.logger.WarnContext(ctx, "token reuse alert",
		"user_id", alert.UserID,
		"family_id", alert.FamilyID,
		"ip_address", alert.IPAddress,
		"detected_at", alert.DetectedAt,
	)
	return nil
}
