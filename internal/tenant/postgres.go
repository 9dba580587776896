package tenant

import (
	"context"
	"database/sql"
	"errors"
)

// PGRegistry resolves territories against the global.territories table.
type PGRegistry struct {
	db *sql.DB
}

func NewPGRegistry(db *sql.DB) *PGRegistry {
	return &PGRegistry{db: db}
}

func (r *PGRegistry) Resolve(ctx context.Context, code string) (Territory, error) {
	code = Normalize(code)
	if !ValidCode(code) {
		return Territory{}, ErrUnknownTerritory
	}
	var t Territory
	err := r.db.QueryRowContext(ctx,
		`select code, name, is_active from global.territories where code=$1`, code,
	).Scan(&t.Code, &t.Name, &t.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return Territory{}, ErrUnknownTerritory
	}
	if err != nil {
		return Territory{}, err
	}
	if !t.Active {
		return Territory{}, ErrUnknownTerritory
	}
	return t, nil
}
