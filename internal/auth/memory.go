package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"unityplan.org/internal/ids"
	"unityplan.org/internal/invite"
	"unityplan.org/internal/tenant"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and single-node development runs; production uses PGStore. When an
// invitation store is supplied, registration consumes invitation slots
// under the same lock as the user insert, mirroring the single-transaction
// guarantee of the Postgres store.
type InMemory struct {
	mu         sync.Mutex
	users      map[string]map[string]*User // territory -> user id -> user
	identities map[string]*GlobalIdentity  // identity id -> identity
	sessions   map[string]*Session         // token hash -> session
	usernames  map[string]string           // username -> territory
	invites    *invite.InMemory
}

// NewInMemory creates an empty store. invites may be nil when invitation
// gating is not exercised.
func NewInMemory(invites *invite.InMemory) *InMemory {
	return &InMemory{
		users:      make(map[string]map[string]*User),
		identities: make(map[string]*GlobalIdentity),
		sessions:   make(map[string]*Session),
		usernames:  make(map[string]string),
		invites:    invites,
	}
}

func (s *InMemory) Users(context.Context) UserStore          { return (*memUserStore)(s) }
func (s *InMemory) Identities(context.Context) IdentityStore { return (*memIdentityStore)(s) }
func (s *InMemory) Sessions(context.Context) SessionStore    { return (*memSessionStore)(s) }

type memUserStore InMemory

func (s *memUserStore) Create(ctx context.Context, territory string, u *User, fingerprint string, adm *Admission) (*GlobalIdentity, error) {
	if !tenant.ValidCode(territory) {
		return nil, tenant.ErrUnknownTerritory
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usernames[u.Username]; taken {
		return nil, ErrUsernameTaken
	}
	if u.Email != "" {
		for _, existing := range s.users[territory] {
			if strings.EqualFold(existing.Email, u.Email) {
				return nil, ErrEmailTaken
			}
		}
	}
	if u.ID == "" {
		u.ID = ids.NewUUID()
	}
	if adm != nil && s.invites != nil {
		if err := s.invites.Consume(ctx, territory, adm.InvitationID, u.ID, adm.Meta); err != nil {
			return nil, err
		}
	}
	if s.users[territory] == nil {
		s.users[territory] = make(map[string]*User)
	}
	cp := *u
	s.users[territory][u.ID] = &cp
	s.usernames[u.Username] = territory

	identity := &GlobalIdentity{
		ID:            ids.New(),
		TerritoryCode: territory,
		UserID:        u.ID,
		Fingerprint:   fingerprint,
		CreatedAt:     u.CreatedAt,
	}
	s.identities[identity.ID] = identity
	return identity, nil
}

func (s *memUserStore) Find(ctx context.Context, territory, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[territory][id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) FindByUsername(ctx context.Context, territory, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users[territory] {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, taken := s.usernames[username]
	return taken, nil
}

func (s *memUserStore) EmailTaken(ctx context.Context, territory, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users[territory] {
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memUserStore) TouchLastLogin(ctx context.Context, territory, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[territory][id]
	if !ok {
		return ErrNotFound
	}
	t := at
	u.LastLoginAt = &t
	u.UpdatedAt = at
	return nil
}

type memIdentityStore InMemory

func (s *memIdentityStore) FindByLocal(ctx context.Context, territory, userID string) (*GlobalIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, gi := range s.identities {
		if gi.TerritoryCode == territory && gi.UserID == userID {
			cp := *gi
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memIdentityStore) FindByID(ctx context.Context, id string) (*GlobalIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gi, ok := s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *gi
	return &cp, nil
}

type memSessionStore InMemory

func (s *memSessionStore) Create(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.TokenHash] = &cp
	return nil
}

func (s *memSessionStore) FindByTokenHash(ctx context.Context, hash string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessionStore) Rotate(ctx context.Context, oldHash string, next *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[oldHash]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, oldHash)
	cp := *next
	s.sessions[next.TokenHash] = &cp
	return nil
}

func (s *memSessionStore) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[hash]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, hash)
	return nil
}

// SessionCount reports live sessions; used by tests asserting rotation
// replaces rather than accumulates grants.
func (s *InMemory) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
