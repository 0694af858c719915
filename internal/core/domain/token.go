package domain

import "time"

// RefreshToken represents a persisted refresh token with rotation support.
// Only TokenHash (a one-way digest of the secret handed to the client) is
// stored; the raw secret never touches the database. FamilyID groups every
// rotation descendant of one login so the whole chain can be revoked at once.
type RefreshToken struct {
	ID              string
	UserID          string
	TokenHash       string
	FamilyID        string
	RotatedFromHash *string
	IP              *string
	UserAgent       *string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	UsedAt          *time.Time
	RevokedAt       *time.Time
	Metadata        map[string]any
}

// IsExpired reports whether the token has elapsed its validity window.
func (t RefreshToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsRevoked reports whether the token has been explicitly revoked.
func (t RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActive returns true when the token can still be presented for rotation.
func (t RefreshToken) IsActive(at time.Time) bool {
	if t.IsRevoked() || t.UsedAt != nil {
		return false
	}
	return !t.IsExpired(at)
}

// MarkUsed records the moment the refresh token was exchanged.
// Returns true if the value changed (i.e. token was previously unused).
func (t *RefreshToken) MarkUsed(at time.Time) bool {
	if t.UsedAt != nil {
		return false
	}
	timeCopy := at
	t.UsedAt = &timeCopy
	return true
}

// Revoke marks the token as revoked.
// Returns true if the token transitioned to the revoked state.
func (t *RefreshToken) Revoke(at time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	timeCopy := at
	t.RevokedAt = &timeCopy
	return true
}

// PasswordResetToken represents a single-use hashed password reset secret.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	IP        *string
	UserAgent *string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	RevokedAt *time.Time
	Metadata  map[string]any
}

// IsExpired reports whether the password reset token can still be redeemed.
func (t PasswordResetToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsRedeemable reports whether the token is unused, unrevoked, and unexpired.
func (t PasswordResetToken) IsRedeemable(at time.Time) bool {
	return t.UsedAt == nil && t.RevokedAt == nil && !t.IsExpired(at)
}

// Consume marks the password reset token as used.
// Returns true when the token transitions from unused to used.
func (t *PasswordResetToken) Consume(at time.Time) bool {
	if t.UsedAt != nil {
		return false
	}
	timeCopy := at
	t.UsedAt = &timeCopy
	return true
}

// Revoke marks the password reset token as revoked.
func (t *PasswordResetToken) Revoke(at time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	timeCopy := at
	t.RevokedAt = &timeCopy
	return true
}
