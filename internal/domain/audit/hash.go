package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// canonicalPayload serializes the hashed fields in a fixed order so the
// integrity hash is reproducible. Timestamps are normalized to UTC
// RFC3339Nano before hashing.
func canonicalPayload(userID, action, resourceType, resourceID string, ts time.Time, previousHash string) string {
	return strings.Join([]string{
		userID,
		action,
		resourceType,
		resourceID,
		ts.UTC().Format(time.RFC3339Nano),
		previousHash,
	}, "|")
}

func ComputeHash(userID, action, resourceType, resourceID string, ts time.Time, previousHash string) string {
	sum := sha256.Sum256([]byte(canonicalPayload(userID, action, resourceType, resourceID, ts, previousHash)))
	return hex.EncodeToString(sum[:])
}

func entryHash(e Entry) string {
	return ComputeHash(e.UserID, e.Action, e.ResourceType, e.ResourceID, e.Timestamp, e.PreviousHash)
}
