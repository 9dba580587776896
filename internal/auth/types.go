package auth

import "time"

// User is a tenant-scoped account row. The password hash never leaves the
// service; outward serialization happens through purpose-built views in
// the HTTP layer.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	FullName     string
	DisplayName  string
	Verified     bool
	Active       bool
	LastLoginAt  *time.Time

	// InvitedByTokenID references the invitation that admitted the user.
	// Empty for accounts created before invitation gating existed.
	InvitedByTokenID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GlobalIdentity links a tenant-local user to a stable cross-territory
// fingerprint. Exactly one exists per (territory, user) pair; it is
// created in the same transaction as the user row.
type GlobalIdentity struct {
	ID            string
	TerritoryCode string
	UserID        string
	Fingerprint   string
	CreatedAt     time.Time
}

// Session is one active refresh-token grant. Sessions live in the global
// namespace and reference a GlobalIdentity, not a tenant row.
type Session struct {
	ID         string
	IdentityID string
	// TokenHash is the SHA-256 of the raw refresh token; the raw value is
	// never stored.
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenPair is the credential set returned by register, login, and refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	// ExpiresIn is the access token lifetime in seconds, echoed to clients.
	ExpiresIn int64
}

// Identity is the resolved caller attached to a request context by the
// authentication gate.
type Identity struct {
	UserID        string
	Username      string
	TerritoryCode string
	Fingerprint   string
}
