package auth

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRecord is a browser session bound to a provider session. The SID
// travels in a cookie; provider tokens never leave the server.
type SessionRecord struct {
	SID             string
	UserID          string
	Email           string
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
}

type AccessClaims struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}
