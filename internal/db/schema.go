package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Shared registries live in the public schema: one tenants table plus
// one identity table per role, spanning all tenants. Uniqueness of
// tenant code/name and of per-role emails is enforced here so that
// concurrent inserts race on the index, not on an application check.
var sharedDDL = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL,
		provisioned BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tenants_code_key ON tenants (code)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tenants_name_key ON tenants (name)`,
	`CREATE TABLE IF NOT EXISTS school_admins (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants (id),
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS school_admins_email_key ON school_admins (email)`,
	`CREATE TABLE IF NOT EXISTS school_teachers (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants (id),
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS school_teachers_email_key ON school_teachers (email)`,
	`CREATE TABLE IF NOT EXISTS school_students (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants (id),
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS school_students_email_key ON school_students (email)`,
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range sharedDDL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
