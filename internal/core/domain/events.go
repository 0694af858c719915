package domain

import "time"

// UserLoggedInEvent represents the payload for auth.user.logged_in messages.
type UserLoggedInEvent struct {
	EventID   string
	UserID    string
	Role      string
	LoggedAt  time.Time
	IPAddress *string
	UserAgent *string
	Metadata  map[string]any
}

// PasswordChangedEvent represents the payload for auth.user.password.changed messages.
type PasswordChangedEvent struct {
	EventID         string
	UserID          string
	ChangedAt       time.Time
	ChangedBy       string
	SessionsRevoked int
	Metadata        map[string]any
}

// PasswordResetRequestedEvent represents the payload for auth.user.password.reset_requested messages.
type PasswordResetRequestedEvent struct {
	EventID           string
	UserID            string
	RequestID         string
	RequestedAt       time.Time
	MaskedDestination string
	IPAddress         *string
	ExpiresAt         time.Time
	Metadata          map[string]any
}

// SessionRevokedEvent represents the payload for auth.session.revoked messages.
type SessionRevokedEvent struct {
	EventID       string
	UserID        string
	FamilyID      string
	RevokedAt     time.Time
	RevokedBy     string
	Reason        string
	TokensRevoked int
	IPAddress     *string
	Metadata      map[string]any
}

// TokenReuseDetectedEvent represents the payload for auth.token.reuse_detected
// messages. Emitted when an already-consumed refresh token is presented again,
// which is treated as evidence of credential theft.
type TokenReuseDetectedEvent struct {
	EventID       string
	UserID        string
	FamilyID      string
	DetectedAt    time.Time
	TokensRevoked int
	IPAddress     *string
	UserAgent     *string
	Metadata      map[string]any
}
