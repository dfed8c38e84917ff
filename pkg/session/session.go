package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ChannelPrefix is prepended to a session id to form the pub/sub topic both
// roles share.
const ChannelPrefix = "signing-session-"

// SessionIDBytes is the entropy of a session identifier (hex doubles it on the wire)
const SessionIDBytes = 16

// SigningSession identifies one initiator/responder pairing. The ID doubles
// as the channel key and is immutable once created.
type SigningSession struct {
	ID        string
	Address   string
	CreatedAt time.Time
}

// GenerateSessionID returns 128 bits of cryptographically secure randomness,
// hex encoded (32 lowercase hex characters). An error from the randomness
// source is unrecoverable and should abort startup.
func GenerateSessionID() (string, error) {
	buf := make([]byte, SessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read session id randomness: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ChannelName derives the pub/sub topic for a session. Pure and deterministic.
func ChannelName(sessionID string) string {
	return ChannelPrefix + sessionID
}
