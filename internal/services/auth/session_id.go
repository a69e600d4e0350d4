package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const sessionIDBytes = 32

// newSessionID returns an unguessable cookie value, url-safe and unpadded.
func newSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read session id entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
