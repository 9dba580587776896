package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"unityplan.org/internal/tenant"
)

// territoryDDL is the per-tenant schema template. %[1]s is the schema name,
// derived only from codes that pass the tenant allow-list.
const territoryDDL = `
create schema if not exists %[1]s;

create table if not exists %[1]s.users (
	id uuid primary key,
	username text not null unique,
	email text unique,
	password_hash text not null,
	full_name text,
	display_name text,
	is_verified boolean not null default false,
	is_active boolean not null default true,
	last_login_at timestamptz,
	invited_by_token_id uuid,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
);

create table if not exists %[1]s.invitation_tokens (
	id uuid primary key,
	token text not null unique,
	token_type text not null check (token_type in ('single_use', 'group')),
	invited_email text,
	max_uses integer not null check (max_uses between 1 and 1000),
	current_uses integer not null default 0,
	is_active boolean not null default true,
	created_by_user_id uuid,
	expires_at timestamptz not null,
	revoked_at timestamptz,
	revoked_by_user_id uuid,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
);

create table if not exists %[1]s.invitation_uses (
	id uuid primary key,
	token_id uuid not null references %[1]s.invitation_tokens(id),
	used_by_user_id uuid not null,
	used_at timestamptz not null default now(),
	ip_address text,
	user_agent text
);

create index if not exists invitation_tokens_created_by_idx
	on %[1]s.invitation_tokens (created_by_user_id, created_at desc);
create index if not exists invitation_uses_token_idx
	on %[1]s.invitation_uses (token_id, used_at desc);
`

// ProvisionTerritory creates the schema for a new tenant and registers it
// in the global territory table. Safe to run repeatedly.
func ProvisionTerritory(ctx context.Context, db *sql.DB, code, name string) error {
	code = tenant.Normalize(code)
	if !tenant.ValidCode(code) {
		return tenant.ErrUnknownTerritory
	}
	schema := tenant.SchemaName(code)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(fmt.Sprintf(territoryDDL, schema)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("provision %s: %w", schema, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`insert into global.territories (code, name, is_active)
		 values ($1, $2, true)
		 on conflict (code) do update set name = excluded.name, is_active = true`,
		code, name,
	)
	if err != nil {
		return fmt.Errorf("register territory %s: %w", code, err)
	}
	return tx.Commit()
}
