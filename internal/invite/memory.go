package invite

import (
	"context"
	"sort"
	"sync"
	"time"

	"unityplan.org/internal/ids"
	"unityplan.org/internal/tenant"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and single-node development runs; production uses PGStore.
type InMemory struct {
	mu     sync.Mutex
	tokens map[string]map[string]*Token // territory -> token id -> token
	uses   map[string][]*Use            // territory -> audit rows
}

// NewInMemory creates an empty invitation store.
func NewInMemory() *InMemory {
	return &InMemory{
		tokens: make(map[string]map[string]*Token),
		uses:   make(map[string][]*Use),
	}
}

func (s *InMemory) Insert(ctx context.Context, territory string, t *Token) error {
	if !tenant.ValidCode(territory) {
		return tenant.ErrUnknownTerritory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens[territory] == nil {
		s.tokens[territory] = make(map[string]*Token)
	}
	cp := *t
	s.tokens[territory][t.ID] = &cp
	return nil
}

func (s *InMemory) FindByToken(ctx context.Context, territory, token string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens[territory] {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTokenUnknown
}

func (s *InMemory) Consume(ctx context.Context, territory, tokenID, userID string, meta UseMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[territory][tokenID]
	if !ok {
		return ErrTokenUnknown
	}
	if t.CurrentUses >= t.MaxUses {
		return ErrTokenExhausted
	}
	if !t.Active {
		return ErrTokenRevoked
	}
	t.CurrentUses++
	if t.CurrentUses >= t.MaxUses {
		t.Active = false
	}
	t.UpdatedAt = time.Now().UTC()
	s.uses[territory] = append(s.uses[territory], &Use{
		ID:        ids.NewUUID(),
		TokenID:   tokenID,
		UsedBy:    userID,
		UsedAt:    time.Now().UTC(),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

func (s *InMemory) Revoke(ctx context.Context, territory, tokenID, requesterID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[territory][tokenID]
	if !ok || t.CreatedBy != requesterID || requesterID == "" {
		return ErrNotFound
	}
	t.Active = false
	t.RevokedAt = &at
	t.RevokedBy = requesterID
	t.UpdatedAt = at
	return nil
}

func (s *InMemory) ListByCreator(ctx context.Context, territory, creatorID string) ([]*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Token
	for _, t := range s.tokens[territory] {
		if t.CreatedBy == creatorID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) Uses(ctx context.Context, territory, tokenID string) ([]*Use, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Use
	for _, u := range s.uses[territory] {
		if u.TokenID == tokenID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UsedAt.After(out[j].UsedAt) })
	return out, nil
}
