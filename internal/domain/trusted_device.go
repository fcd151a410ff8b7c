package domain

import "time"

// TrustedDevice is keyed by (UserID, DeviceFingerprint). A row means the
// device is known; TrustedAt additionally marks explicit user trust.
type TrustedDevice struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	UserID            string     `gorm:"size:36;not null;uniqueIndex:idx_trusted_devices_user_fp" json:"user_id"`
	DeviceFingerprint string     `gorm:"size:64;not null;uniqueIndex:idx_trusted_devices_user_fp" json:"device_fingerprint"`
	IPAddress         string     `gorm:"size:64" json:"ip_address"`
	UserAgent         string     `gorm:"size:512" json:"user_agent"`
	FirstSeenAt       time.Time  `gorm:"not null" json:"first_seen_at"`
	LastSeenAt        time.Time  `gorm:"not null" json:"last_seen_at"`
	TrustedAt         *time.Time `json:"trusted_at,omitempty"`
}
