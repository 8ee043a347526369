// Package session generates session identifiers and conversation keys.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// idTimeLayout matches the legacy session id format: day-first timestamp,
// three underscores, then the first four hyphenated groups of a UUID.
const idTimeLayout = "02-01-2006_15:04:05"

// NewID generates a unique session id, e.g.
// "14-02-2026_10:05:30___9f1c2b3a-4d5e-6f70-8a9b".
func NewID() string {
	timestamp := time.Now().Format(idTimeLayout)
	parts := strings.Split(uuid.New().String(), "-")
	suffix := strings.Join(parts[:4], "-")
	return timestamp + "___" + suffix
}

// Key builds the conversation key scoping processors and cancellation
// handles to a single (user, session) pair.
func Key(userID, sessionID string) string {
	return userID + "|" + sessionID
}
