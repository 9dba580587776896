package invite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"unityplan.org/internal/ids"
)

const (
	defaultExpiryDays = 30
	maxExpiryDays     = 365
	maxGroupUses      = 1000
)

// Engine owns the invitation token lifecycle for all territories.
type Engine struct {
	store Store
	now   func() time.Time
}

// Option configures Engine behavior.
type Option func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEngine constructs an Engine over the given store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create generates and persists a new invitation token after enforcing
// the single_use/group invariants.
func (e *Engine) Create(ctx context.Context, territory string, in CreateInput) (*Token, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	switch in.Type {
	case TypeSingleUse:
		if in.Email == "" {
			return nil, fmt.Errorf("%w: email is required for single_use invitation tokens", ErrInvalidInput)
		}
		if in.MaxUses != 1 {
			return nil, fmt.Errorf("%w: single_use tokens must have max_uses = 1", ErrInvalidInput)
		}
	case TypeGroup:
		if in.Email != "" {
			return nil, fmt.Errorf("%w: email must not be set for group invitation tokens", ErrInvalidInput)
		}
		if in.MaxUses <= 1 {
			return nil, fmt.Errorf("%w: group tokens must have max_uses > 1", ErrInvalidInput)
		}
		if in.MaxUses > maxGroupUses {
			return nil, fmt.Errorf("%w: max_uses must not exceed %d", ErrInvalidInput, maxGroupUses)
		}
	default:
		return nil, fmt.Errorf("%w: token_type must be single_use or group", ErrInvalidInput)
	}

	days := in.ExpiresInDays
	if days == 0 {
		days = defaultExpiryDays
	}
	if days < 1 || days > maxExpiryDays {
		return nil, fmt.Errorf("%w: expiration must be between 1 and %d days", ErrInvalidInput, maxExpiryDays)
	}

	raw, err := NewTokenString()
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	tok := &Token{
		ID:           ids.NewUUID(),
		Token:        raw,
		Type:         in.Type,
		InvitedEmail: in.Email,
		MaxUses:      in.MaxUses,
		CurrentUses:  0,
		Active:       true,
		CreatedBy:    in.CreatedBy,
		ExpiresAt:    now.Add(time.Duration(days) * 24 * time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.Insert(ctx, territory, tok); err != nil {
		return nil, fmt.Errorf("insert invitation token: %w", err)
	}
	return tok, nil
}

// Validate checks a token without mutating it, so an unauthenticated
// pre-registration check may call it any number of times. Email-bound
// tokens reject on mismatch only when a candidate email is supplied.
func (e *Engine) Validate(ctx context.Context, territory, token, email string) (*Token, error) {
	rec, err := e.store.FindByToken(ctx, territory, token)
	if err != nil {
		return nil, err
	}

	if !rec.Active {
		// Exhausted tokens auto-deactivate; report the cap, not a revocation.
		if rec.CurrentUses >= rec.MaxUses {
			return nil, ErrTokenExhausted
		}
		return nil, ErrTokenRevoked
	}
	if e.now().After(rec.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	if rec.CurrentUses >= rec.MaxUses {
		return nil, ErrTokenExhausted
	}
	if rec.Type == TypeSingleUse && rec.InvitedEmail != "" && email != "" {
		if !strings.EqualFold(rec.InvitedEmail, strings.TrimSpace(email)) {
			return nil, ErrEmailMismatch
		}
	}
	return rec, nil
}

// Consume marks one admission against the token and records the audit row.
// Registration wraps this into its own transaction; this entry point covers
// standalone consumers such as the in-memory store used in tests.
func (e *Engine) Consume(ctx context.Context, territory, tokenID, userID string, meta UseMetadata) error {
	return e.store.Consume(ctx, territory, tokenID, userID, meta)
}

// Revoke deactivates a token the requester created. Revoking someone
// else's token, or a token that does not exist, reports ErrNotFound.
func (e *Engine) Revoke(ctx context.Context, territory, tokenID, requesterID string) error {
	return e.store.Revoke(ctx, territory, tokenID, requesterID, e.now().UTC())
}

// List returns tokens created by the user, newest first.
func (e *Engine) List(ctx context.Context, territory, creatorID string) ([]*Token, error) {
	return e.store.ListByCreator(ctx, territory, creatorID)
}

// Usage returns the audit trail for one token, newest first.
func (e *Engine) Usage(ctx context.Context, territory, tokenID string) ([]*Use, error) {
	return e.store.Uses(ctx, territory, tokenID)
}
