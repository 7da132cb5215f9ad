package auth

import (
	"slices"
	"time"
)

// Identity is an authenticated principal together with the circles it owns.
type Identity struct {
	ID              int64   `json:"id"`
	Handle          string  `json:"handle"`
	Nickname        string  `json:"nickname"`
	Email           string  `json:"email"`
	Role            Role    `json:"role"`
	ExternalAccount string  `json:"twitter_id,omitempty"`
	Circles         []int64 `json:"circles"`
}

// OwnsCircle reports whether the identity holds an ownership edge to circleID.
func (i Identity) OwnsCircle(circleID int64) bool {
	return slices.Contains(i.Circles, circleID)
}

// Account is the persisted identity row including the credential hash.
type Account struct {
	Identity
	PasswordHash string
}

// NewIdentity carries registration input.
type NewIdentity struct {
	Handle   string `json:"handle"`
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileUpdate changes mutable profile fields. Password must hold the current password.
type ProfileUpdate struct {
	Nickname    *string `json:"nickname,omitempty"`
	Email       *string `json:"email,omitempty"`
	Password    string  `json:"password"`
	NewPassword *string `json:"new_password,omitempty"`
}

// Session is a persisted login. A nil ExpiresAt marks a persistent session.
type Session struct {
	Selector        string
	HashedValidator string
	IdentityID      int64
	ExpiresAt       *time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// SessionToken is the issued credential. Token is "selector:validator" and is shown once.
type SessionToken struct {
	Token     string
	Selector  string
	ExpiresAt *time.Time
}
