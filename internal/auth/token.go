package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy of a session token.
const tokenBytes = 32

// NewToken returns a fresh opaque session token. The token carries no claims;
// everything about the session lives server side under HashToken(token).
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// WellFormed reports whether value looks like a token from NewToken.
func WellFormed(value string) bool {
	if len(value) != 2*tokenBytes {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
