package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"unityplan.org/internal/ids"
	"unityplan.org/internal/invite"
	"unityplan.org/internal/tenant"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Tenant rows live in
// per-territory schemas; identities, sessions, and the username
// reservation table live in the global schema.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore          { return &pgUserStore{db: s.db} }
func (s *PGStore) Identities(context.Context) IdentityStore { return &pgIdentityStore{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore    { return &pgSessionStore{db: s.db} }

func schemaFor(territory string) (string, error) {
	if !tenant.ValidCode(territory) {
		return "", tenant.ErrUnknownTerritory
	}
	return tenant.SchemaName(territory), nil
}

// User store ---------------------------------------------------------------

type pgUserStore struct{ db *sql.DB }

const userColumns = `id, username, email, password_hash, full_name, display_name,
	is_verified, is_active, last_login_at, invited_by_token_id, created_at, updated_at`

func (s *pgUserStore) Create(ctx context.Context, territory string, u *User, fingerprint string, adm *Admission) (*GlobalIdentity, error) {
	schema, err := schemaFor(territory)
	if err != nil {
		return nil, err
	}
	if u.ID == "" {
		u.ID = ids.NewUUID()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`insert into %s.users
			(id, username, email, password_hash, full_name, display_name, is_verified, is_active, invited_by_token_id, created_at, updated_at)
		 values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, schema),
		u.ID, u.Username, nullString(u.Email), u.PasswordHash,
		nullString(u.FullName), nullString(u.DisplayName),
		u.Verified, u.Active, nullString(u.InvitedByTokenID),
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return nil, classifyUniqueViolation(err)
	}

	identity := &GlobalIdentity{
		ID:            ids.New(),
		TerritoryCode: territory,
		UserID:        u.ID,
		Fingerprint:   fingerprint,
		CreatedAt:     u.CreatedAt,
	}
	_, err = tx.ExecContext(ctx,
		`insert into global.identities (id, territory_code, user_id, fingerprint, created_at)
		 values ($1,$2,$3,$4,$5)`,
		identity.ID, identity.TerritoryCode, identity.UserID, identity.Fingerprint, identity.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert global identity: %w", err)
	}

	// Username uniqueness is global even though the user row is
	// tenant-scoped; the reservation insert races safely on its
	// primary key.
	_, err = tx.ExecContext(ctx,
		`insert into global.usernames (username, territory_code, user_id) values ($1,$2,$3)`,
		u.Username, territory, u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("reserve username: %w", err)
	}

	if adm != nil {
		if err := invite.ConsumeTx(ctx, tx, schema, adm.InvitationID, u.ID, adm.Meta); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return identity, nil
}

func (s *pgUserStore) Find(ctx context.Context, territory, id string) (*User, error) {
	schema, err := schemaFor(territory)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`select %s from %s.users where id=$1`, userColumns, schema), id)
	return scanUser(row)
}

func (s *pgUserStore) FindByUsername(ctx context.Context, territory, username string) (*User, error) {
	schema, err := schemaFor(territory)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`select %s from %s.users where username=$1`, userColumns, schema), username)
	return scanUser(row)
}

func (s *pgUserStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from global.usernames where username=$1)`, username,
	).Scan(&taken)
	return taken, err
}

func (s *pgUserStore) EmailTaken(ctx context.Context, territory, email string) (bool, error) {
	schema, err := schemaFor(territory)
	if err != nil {
		return false, err
	}
	var taken bool
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(
		`select exists(select 1 from %s.users where lower(email)=lower($1))`, schema), email,
	).Scan(&taken)
	return taken, err
}

func (s *pgUserStore) TouchLastLogin(ctx context.Context, territory, id string, at time.Time) error {
	schema, err := schemaFor(territory)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`update %s.users set last_login_at=$1, updated_at=$1 where id=$2`, schema), at, id)
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var email, fullName, displayName, invitedBy sql.NullString
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &fullName, &displayName,
		&u.Verified, &u.Active, &lastLogin, &invitedBy, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.FullName = fullName.String
	u.DisplayName = displayName.String
	u.InvitedByTokenID = invitedBy.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// Identity store -----------------------------------------------------------

type pgIdentityStore struct{ db *sql.DB }

func (s *pgIdentityStore) FindByLocal(ctx context.Context, territory, userID string) (*GlobalIdentity, error) {
	if !tenant.ValidCode(territory) {
		return nil, tenant.ErrUnknownTerritory
	}
	row := s.db.QueryRowContext(ctx,
		`select id, territory_code, user_id, fingerprint, created_at
		 from global.identities where territory_code=$1 and user_id=$2`,
		territory, userID)
	return scanIdentity(row)
}

func (s *pgIdentityStore) FindByID(ctx context.Context, id string) (*GlobalIdentity, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, territory_code, user_id, fingerprint, created_at
		 from global.identities where id=$1`, id)
	return scanIdentity(row)
}

func scanIdentity(row *sql.Row) (*GlobalIdentity, error) {
	var gi GlobalIdentity
	err := row.Scan(&gi.ID, &gi.TerritoryCode, &gi.UserID, &gi.Fingerprint, &gi.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &gi, nil
}

// Session store ------------------------------------------------------------

type pgSessionStore struct{ db *sql.DB }

func (s *pgSessionStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`insert into global.sessions (id, identity_id, token_hash, expires_at, created_at)
		 values ($1,$2,$3,$4,$5)`,
		sess.ID, sess.IdentityID, sess.TokenHash, sess.ExpiresAt, sess.CreatedAt,
	)
	return err
}

func (s *pgSessionStore) FindByTokenHash(ctx context.Context, hash string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`select id, identity_id, token_hash, expires_at, created_at
		 from global.sessions where token_hash=$1`, hash,
	).Scan(&sess.ID, &sess.IdentityID, &sess.TokenHash, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *pgSessionStore) Rotate(ctx context.Context, oldHash string, next *Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// The delete doubles as the serialization point: concurrent rotations
	// of the same token contend on this row and exactly one sees it.
	res, err := tx.ExecContext(ctx, `delete from global.sessions where token_hash=$1`, oldHash)
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

	_, err = tx.ExecContext(ctx,
		`insert into global.sessions (id, identity_id, token_hash, expires_at, created_at)
		 values ($1,$2,$3,$4,$5)`,
		next.ID, next.IdentityID, next.TokenHash, next.ExpiresAt, next.CreatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgSessionStore) Delete(ctx context.Context, hash string) error {
	res, err := s.db.ExecContext(ctx, `delete from global.sessions where token_hash=$1`, hash)
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

// helpers ------------------------------------------------------------------

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func classifyUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "email") {
			return ErrEmailTaken
		}
		return ErrUsernameTaken
	}
	return err
}
