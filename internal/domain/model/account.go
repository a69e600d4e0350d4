package model

import (
	"time"

	"github.com/ivankudzin/skillmarket/internal/domain/enums"
)

// Account mirrors a user held by the identity provider.
type Account struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

type ProviderSession struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Account   `json:"user"`
}

// AccessArtifact is what a buyer receives to get into their account: either a
// live session or a confirmation link.
type AccessArtifact struct {
	Kind    enums.AccessKind `json:"kind"`
	URL     string           `json:"url,omitempty"`
	Session *ProviderSession `json:"-"`
}
