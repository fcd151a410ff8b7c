package domain

import "time"

type SecurityEventType string

const (
	EventTokenRotated        SecurityEventType = "token_rotated"
	EventTokenReuseDetected  SecurityEventType = "token_reuse_detected"
	EventTokenFamilyRevoked  SecurityEventType = "token_family_revoked"
	EventAccountLocked       SecurityEventType = "account_locked"
	EventNewDeviceLogin      SecurityEventType = "new_device_login"
	EventTOTPChallengeFailed SecurityEventType = "totp_challenge_failed"
)

func (t SecurityEventType) Valid() bool {
	switch t {
	case EventTokenRotated, EventTokenReuseDetected, EventTokenFamilyRevoked,
		EventAccountLocked, EventNewDeviceLogin, EventTOTPChallengeFailed:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// SecurityEvent is write-once. Metadata is stored as a JSON document.
type SecurityEvent struct {
	ID        string            `gorm:"primaryKey;size:26" json:"id"`
	EventType SecurityEventType `gorm:"size:64;index;not null" json:"event_type"`
	Severity  Severity          `gorm:"size:16;not null" json:"severity"`
	UserID    *string           `gorm:"size:36;index" json:"user_id,omitempty"`
	Email     *string           `gorm:"size:320" json:"email,omitempty"`
	IPAddress string            `gorm:"size:64" json:"ip_address"`
	UserAgent string            `gorm:"size:512" json:"user_agent"`
	Metadata  JSONMap           `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}
