package invite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"unityplan.org/internal/ids"
	"unityplan.org/internal/tenant"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Tenant-scoped tables live in
// per-territory schemas; the schema identifier is derived only from codes
// that pass the tenant allow-list.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func schemaFor(territory string) (string, error) {
	if !tenant.ValidCode(territory) {
		return "", tenant.ErrUnknownTerritory
	}
	return tenant.SchemaName(territory), nil
}

const tokenColumns = `id, token, token_type, invited_email, max_uses, current_uses,
	is_active, created_by_user_id, expires_at, revoked_at, revoked_by_user_id,
	created_at, updated_at`

func (s *PGStore) Insert(ctx context.Context, territory string, t *Token) error {
	schema, err := schemaFor(territory)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`insert into %s.invitation_tokens
			(id, token, token_type, invited_email, max_uses, current_uses, is_active, created_by_user_id, expires_at, created_at, updated_at)
		 values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, schema),
		t.ID, t.Token, string(t.Type), nullString(t.InvitedEmail),
		t.MaxUses, t.CurrentUses, t.Active, nullString(t.CreatedBy),
		t.ExpiresAt, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (s *PGStore) FindByToken(ctx context.Context, territory, token string) (*Token, error) {
	schema, err := schemaFor(territory)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`select %s from %s.invitation_tokens where token=$1`, tokenColumns, schema), token)
	return scanToken(row)
}

func (s *PGStore) Consume(ctx context.Context, territory, tokenID, userID string, meta UseMetadata) error {
	schema, err := schemaFor(territory)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := ConsumeTx(ctx, tx, schema, tokenID, userID, meta); err != nil {
		return err
	}
	return tx.Commit()
}

// ConsumeTx performs the consumption inside an existing transaction so the
// registration flow can commit it together with the user insert. The
// conditional update serializes concurrent consumers: only increments that
// still fit under max_uses succeed.
func ConsumeTx(ctx context.Context, tx *sql.Tx, schema, tokenID, userID string, meta UseMetadata) error {
	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		`update %s.invitation_tokens
		 set current_uses = current_uses + 1,
		     is_active = case when current_uses + 1 >= max_uses then false else is_active end,
		     updated_at = now()
		 where id=$1 and is_active and current_uses < max_uses`, schema),
		tokenID,
	)
	if err != nil {
		return fmt.Errorf("consume invitation token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return consumeFailure(ctx, tx, schema, tokenID)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`insert into %s.invitation_uses (id, token_id, used_by_user_id, used_at, ip_address, user_agent)
		 values ($1,$2,$3,now(),$4,$5)`, schema),
		ids.NewUUID(), tokenID, userID, nullString(meta.IPAddress), nullString(meta.UserAgent),
	)
	if err != nil {
		return fmt.Errorf("append invitation use: %w", err)
	}
	return nil
}

// consumeFailure explains a zero-row consume. The token may have been
// revoked between validation and consumption; that is not the same thing
// as running out of uses.
func consumeFailure(ctx context.Context, tx *sql.Tx, schema, tokenID string) error {
	var active bool
	var currentUses, maxUses int
	err := tx.QueryRowContext(ctx, fmt.Sprintf(
		`select is_active, current_uses, max_uses from %s.invitation_tokens where id=$1`, schema),
		tokenID,
	).Scan(&active, &currentUses, &maxUses)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTokenUnknown
	}
	if err != nil {
		return fmt.Errorf("inspect invitation token: %w", err)
	}
	if !active && currentUses < maxUses {
		return ErrTokenRevoked
	}
	return ErrTokenExhausted
}

func (s *PGStore) Revoke(ctx context.Context, territory, tokenID, requesterID string, at time.Time) error {
	schema, err := schemaFor(territory)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`update %s.invitation_tokens
		 set is_active=false, revoked_at=$3, revoked_by_user_id=$2, updated_at=$3
		 where id=$1 and created_by_user_id=$2`, schema),
		tokenID, requesterID, at,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ListByCreator(ctx context.Context, territory, creatorID string) ([]*Token, error) {
	schema, err := schemaFor(territory)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`select %s from %s.invitation_tokens where created_by_user_id=$1 order by created_at desc`,
		tokenColumns, schema), creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *PGStore) Uses(ctx context.Context, territory, tokenID string) ([]*Use, error) {
	schema, err := schemaFor(territory)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`select id, token_id, used_by_user_id, used_at, ip_address, user_agent
		 from %s.invitation_uses where token_id=$1 order by used_at desc`, schema), tokenID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uses []*Use
	for rows.Next() {
		var (
			u         Use
			ip, agent sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.TokenID, &u.UsedBy, &u.UsedAt, &ip, &agent); err != nil {
			return nil, err
		}
		u.IPAddress = ip.String
		u.UserAgent = agent.String
		uses = append(uses, &u)
	}
	return uses, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*Token, error) {
	var t Token
	var typ string
	var email, createdBy, revokedBy sql.NullString
	var revokedAt sql.NullTime
	err := row.Scan(&t.ID, &t.Token, &typ, &email, &t.MaxUses, &t.CurrentUses,
		&t.Active, &createdBy, &t.ExpiresAt, &revokedAt, &revokedBy,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenUnknown
	}
	if err != nil {
		return nil, err
	}
	t.Type = TokenType(typ)
	t.InvitedEmail = email.String
	t.CreatedBy = createdBy.String
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	t.RevokedBy = revokedBy.String
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
