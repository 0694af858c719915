package domain

import "time"

// Role enumerates the closed set of account roles on the platform.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleAgency Role = "agency"
	RoleAdmin  Role = "admin"
)

// ParseRole converts a raw string into a Role, reporting whether it is known.
func ParseRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleUser, RoleModel, RoleAgency, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

// User mirrors the persisted representation in the users table.
// The credential subsystem only ever rewrites PasswordHash; everything else
// is owned by the user-management service.
type User struct {
	ID                string
	Email             string
	Username          string
	PasswordHash      string
	Role              Role
	IsActive          bool
	IsVerified        bool
	CreatedAt         time.Time
	LastLoginAt       *time.Time
	PasswordChangedAt time.Time
}

// CanAuthenticate reports whether the account may establish a new session.
func (u User) CanAuthenticate() bool {
	return u.IsActive
}

// IdentityState is the subset of User consulted on every authorized request.
// It is small enough to cache; the cache TTL must never exceed the access
// token lifetime so a deactivation takes effect within one token cycle.
type IdentityState struct {
	UserID     string
	Role       Role
	IsActive   bool
	IsVerified bool
}

// StateOf projects the cacheable per-request identity state from a user.
func StateOf(u User) IdentityState {
	return IdentityState{
		UserID:     u.ID,
		Role:       u.Role,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
	}
}
