package domain

import "time"

type RevokeReason string

const (
	RevokeReasonTokenReuse   RevokeReason = "token_reuse_detected"
	RevokeReasonSessionLimit RevokeReason = "session_limit_exceeded"
	RevokeReasonUserLogout   RevokeReason = "user_logout"
	RevokeReasonLogoutOthers RevokeReason = "logout_other_sessions"
	RevokeReasonIdleTimeout  RevokeReason = "idle_timeout"
	RevokeReasonAdminRevoked RevokeReason = "admin_revoked"
)

func (r RevokeReason) Valid() bool {
	switch r {
	case RevokeReasonTokenReuse, RevokeReasonSessionLimit, RevokeReasonUserLogout,
		RevokeReasonLogoutOthers, RevokeReasonIdleTimeout, RevokeReasonAdminRevoked:
		return true
	}
	return false
}

// TokenFamily is one login lineage. CurrentTokenID names the only token that
// may be rotated; once RevokedAt is set the family never becomes active again.
type TokenFamily struct {
	ID              string        `gorm:"primaryKey;size:36" json:"id"`
	UserID          string        `gorm:"size:36;index;not null" json:"user_id"`
	CurrentTokenID  string        `gorm:"size:36;not null" json:"-"`
	LatestExpiresAt time.Time     `gorm:"index;not null" json:"latest_expires_at"`
	LastActiveAt    time.Time     `gorm:"not null" json:"last_active_at"`
	RevokedAt       *time.Time    `gorm:"index" json:"revoked_at,omitempty"`
	RevokeReason    *RevokeReason `gorm:"size:64" json:"revoke_reason,omitempty"`
	IPAddress       string        `gorm:"size:64" json:"ip_address"`
	UserAgent       string        `gorm:"size:512" json:"user_agent"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (f *TokenFamily) IsRevoked() bool { return f.RevokedAt != nil }

// RefreshToken rows are kept after consumption so that replays of a
// rotated-out value can be recognised.
type RefreshToken struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	FamilyID   string     `gorm:"size:36;index;not null" json:"family_id"`
	TokenHash  string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	ExpiresAt  time.Time  `gorm:"not null" json:"expires_at"`
	ConsumedAt *time.Time `gorm:"index" json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (t *RefreshToken) IsConsumed() bool { return t.ConsumedAt != nil }
