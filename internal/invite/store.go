package invite

import (
	"context"
	"time"
)

// Store persists invitation tokens inside one territory partition.
// The territory argument is a registry-validated code; implementations
// must reject anything else.
type Store interface {
	Insert(ctx context.Context, territory string, t *Token) error
	FindByToken(ctx context.Context, territory, token string) (*Token, error)
	// Consume atomically increments the use count, deactivates the token
	// when the cap is reached, and appends the audit row. The increment is
	// guarded by current_uses < max_uses; losing that race returns
	// ErrTokenExhausted.
	Consume(ctx context.Context, territory, tokenID, userID string, meta UseMetadata) error
	// Revoke deactivates a token owned by requesterID. Zero matched rows
	// map to ErrNotFound: callers cannot learn about tokens they do not own.
	Revoke(ctx context.Context, territory, tokenID, requesterID string, at time.Time) error
	ListByCreator(ctx context.Context, territory, creatorID string) ([]*Token, error)
	Uses(ctx context.Context, territory, tokenID string) ([]*Use, error)
}
