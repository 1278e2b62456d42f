package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SessionID derives a stable per-user, per-day session identifier. All
// activity of one user on one UTC calendar day shares a session.
func SessionID(userID string, t time.Time) string {
	sum := sha256.Sum256([]byte(userID + "|" + t.UTC().Format("2006-01-02")))
	return hex.EncodeToString(sum[:])[:12]
}
