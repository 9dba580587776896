package invite

import "time"

// TokenType distinguishes the two invitation classes.
type TokenType string

const (
	// TypeSingleUse tokens admit exactly one registration and are bound
	// to the invited email address.
	TypeSingleUse TokenType = "single_use"
	// TypeGroup tokens admit several registrations and carry no email.
	TypeGroup TokenType = "group"
)

// Token is a capability string gating registration in one territory.
type Token struct {
	ID    string
	Token string
	Type  TokenType

	// InvitedEmail is set only for single_use tokens.
	InvitedEmail string
	MaxUses      int
	CurrentUses  int
	Active       bool

	// CreatedBy is empty for bootstrap tokens seeded before any user exists.
	CreatedBy string

	ExpiresAt time.Time
	RevokedAt *time.Time
	RevokedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RemainingUses reports how many admissions the token still covers.
func (t *Token) RemainingUses() int {
	if t.CurrentUses >= t.MaxUses {
		return 0
	}
	return t.MaxUses - t.CurrentUses
}

// Use is one append-only audit record of a successful consumption.
type Use struct {
	ID        string
	TokenID   string
	UsedBy    string
	UsedAt    time.Time
	IPAddress string
	UserAgent string
}

// UseMetadata carries optional client attributes captured at consumption.
type UseMetadata struct {
	IPAddress string
	UserAgent string
}

// CreateInput describes a new invitation token.
type CreateInput struct {
	Type          TokenType
	Email         string
	MaxUses       int
	ExpiresInDays int
	// CreatedBy is the creating user's id; empty for bootstrap tokens.
	CreatedBy string
}
