package target

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint computes a hex SHA-256 over a raw target state document.
// The poller uses it to skip re-parsing byte-identical payloads when the
// upstream endpoint does not honor conditional requests.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
