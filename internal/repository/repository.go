package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"eruditiontx/tenancy/internal/model"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every Store
// method works inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db   Querier
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// WithTx runs fn against a transaction-bound Store. Any error rolls the
// whole transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(*Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(&Store{db: tx, pool: s.pool}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (s *Store) CreateTenant(ctx context.Context, tenant model.Tenant) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tenants (id, name, code, provisioned, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, tenant.ID, tenant.Name, tenant.Code, tenant.Provisioned, tenant.CreatedAt)
	return err
}

func (s *Store) GetTenantByCode(ctx context.Context, code string) (model.Tenant, error) {
	return s.getTenant(ctx, `code = $1`, code)
}

func (s *Store) GetTenantByName(ctx context.Context, name string) (model.Tenant, error) {
	return s.getTenant(ctx, `name = $1`, name)
}

func (s *Store) GetTenantByID(ctx context.Context, tenantID string) (model.Tenant, error) {
	return s.getTenant(ctx, `id = $1`, tenantID)
}

func (s *Store) getTenant(ctx context.Context, where string, arg string) (model.Tenant, error) {
	var tenant model.Tenant
	row := s.db.QueryRow(ctx, `
		SELECT id, name, code, provisioned, created_at
		FROM tenants
		WHERE `+where, arg)
	err := row.Scan(&tenant.ID, &tenant.Name, &tenant.Code, &tenant.Provisioned, &tenant.CreatedAt)
	return tenant, err
}

func (s *Store) MarkTenantProvisioned(ctx context.Context, tenantID string) error {
	_, err := s.db.Exec(ctx, `UPDATE tenants SET provisioned = TRUE WHERE id = $1`, tenantID)
	return err
}

func identityTable(role string) string {
	switch role {
	case model.RoleAdmin:
		return "school_admins"
	case model.RoleTeacher:
		return "school_teachers"
	case model.RoleStudent:
		return "school_students"
	default:
		return ""
	}
}

func (s *Store) CreateIdentity(ctx context.Context, identity model.Identity) error {
	table := identityTable(identity.Role)
	if table == "" {
		return errors.New("unknown role " + identity.Role)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+table+` (id, tenant_id, email, password_hash, first_name, last_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, identity.ID, identity.TenantID, identity.Email, identity.PasswordHash, identity.FirstName, identity.LastName, identity.CreatedAt)
	return err
}

func (s *Store) GetIdentityByEmail(ctx context.Context, role, email string) (model.Identity, error) {
	identity := model.Identity{Role: role}
	table := identityTable(role)
	if table == "" {
		return identity, errors.New("unknown role " + role)
	}
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, email, password_hash, first_name, last_name, created_at
		FROM `+table+`
		WHERE email = $1
	`, email)
	err := row.Scan(
		&identity.ID,
		&identity.TenantID,
		&identity.Email,
		&identity.PasswordHash,
		&identity.FirstName,
		&identity.LastName,
		&identity.CreatedAt,
	)
	return identity, err
}

func (s *Store) ListIdentitiesByTenant(ctx context.Context, role, tenantID string, limit int) ([]model.Identity, error) {
	table := identityTable(role)
	if table == "" {
		return nil, errors.New("unknown role " + role)
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, email, password_hash, first_name, last_name, created_at
		FROM `+table+`
		WHERE tenant_id = $1
		ORDER BY created_at
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var identities []model.Identity
	for rows.Next() {
		identity := model.Identity{Role: role}
		if err := rows.Scan(
			&identity.ID,
			&identity.TenantID,
			&identity.Email,
			&identity.PasswordHash,
			&identity.FirstName,
			&identity.LastName,
			&identity.CreatedAt,
		); err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}
