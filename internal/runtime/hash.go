package runtime

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashText is the Runtime's repeat-detection signal for the Stall
// Detector: the detector only compares opaque hashes,
// so hashing the assistant's final text is the caller's job.
func hashText(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
