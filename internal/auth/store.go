package auth

import (
	"context"
	"time"

	"unityplan.org/internal/invite"
)

// Store describes persistence required by the auth subsystem. Implementations
// are injected, never ambient, so tests can substitute an isolated store.
type Store interface {
	Users(ctx context.Context) UserStore
	Identities(ctx context.Context) IdentityStore
	Sessions(ctx context.Context) SessionStore
}

// Admission links a registration to the invitation slot it consumes.
type Admission struct {
	InvitationID string
	Meta         invite.UseMetadata
}

// UserStore manages tenant-scoped user rows. Every method takes a
// registry-validated territory code.
type UserStore interface {
	// Create inserts the user, its global identity, the cross-tenant
	// username reservation, and the invitation consumption as one
	// transaction, and returns the created identity. A duplicate username
	// maps to ErrUsernameTaken, a duplicate email to ErrEmailTaken, and a
	// lost invitation race to invite.ErrTokenExhausted.
	Create(ctx context.Context, territory string, u *User, fingerprint string, adm *Admission) (*GlobalIdentity, error)
	Find(ctx context.Context, territory, id string) (*User, error)
	FindByUsername(ctx context.Context, territory, username string) (*User, error)
	// UsernameTaken checks the global reservation table across all tenants.
	UsernameTaken(ctx context.Context, username string) (bool, error)
	EmailTaken(ctx context.Context, territory, email string) (bool, error)
	TouchLastLogin(ctx context.Context, territory, id string, at time.Time) error
}

// IdentityStore is a read-only projection over the global identity relation;
// rows are created as a side effect of UserStore.Create.
type IdentityStore interface {
	FindByLocal(ctx context.Context, territory, userID string) (*GlobalIdentity, error)
	FindByID(ctx context.Context, id string) (*GlobalIdentity, error)
}

// SessionStore manages refresh-token grants in the global namespace.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindByTokenHash(ctx context.Context, hash string) (*Session, error)
	// Rotate atomically replaces the session keyed by oldHash with next.
	// At most one concurrent rotation of the same token succeeds; losers
	// observe ErrNotFound.
	Rotate(ctx context.Context, oldHash string, next *Session) error
	// Delete removes the session; zero rows is ErrNotFound, not success.
	Delete(ctx context.Context, hash string) error
}
