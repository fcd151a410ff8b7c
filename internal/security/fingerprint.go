package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeviceFingerprint is a lookup key for a device, not a security boundary.
func DeviceFingerprint(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + ":" + userAgent))
	return hex.EncodeToString(sum[:])
}
