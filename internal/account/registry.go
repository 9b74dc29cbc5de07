package account

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"eruditiontx/tenancy/internal/auth"
	"eruditiontx/tenancy/internal/config"
	"eruditiontx/tenancy/internal/crypto"
	"eruditiontx/tenancy/internal/fault"
	"eruditiontx/tenancy/internal/model"
	"eruditiontx/tenancy/internal/repository"
	"eruditiontx/tenancy/internal/tenant"
)

// Registry owns the shared per-role identity registries. It is the only
// component that touches credentials, and every store or hashing
// failure leaves it as a fault.Error.
type Registry struct {
	cfg       config.Config
	store     *repository.Store
	directory *tenant.Directory
}

func NewRegistry(cfg config.Config, store *repository.Store, directory *tenant.Directory) *Registry {
	return &Registry{cfg: cfg, store: store, directory: directory}
}

type CreateParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	School    string // tenant display name, resolved via the directory
}

type LoginResult struct {
	Token      string
	IdentityID string
	Role       string
	TenantCode string
	ExpiresAt  time.Time
}

// Create registers one identity in the named school. The tenant must
// already exist; identities never create tenants implicitly.
func (r *Registry) Create(ctx context.Context, role string, p CreateParams) (string, error) {
	if !model.ValidRole(role) {
		return "", fault.New(fault.CodeValidation)
	}
	p.Email = normalizeEmail(p.Email)
	if err := validateCredentials(p); err != nil {
		return "", err
	}
	if strings.TrimSpace(p.School) == "" {
		return "", fault.New(fault.CodeValidation)
	}

	tenantRec, err := r.directory.ResolveByName(ctx, p.School)
	if err != nil {
		return "", err
	}

	identity, err := buildIdentity(role, tenantRec.ID, p)
	if err != nil {
		return "", err
	}
	if err := storeIdentity(ctx, r.store, identity); err != nil {
		return "", err
	}
	return identity.ID, nil
}

// CreateBatch registers a list of identities of one role in a single
// transaction. Any failure rolls back every insert in the batch.
func (r *Registry) CreateBatch(ctx context.Context, role string, entries []CreateParams) ([]string, error) {
	if !model.ValidRole(role) || len(entries) == 0 {
		return nil, fault.New(fault.CodeValidation)
	}

	// Validate, resolve, and hash up front so the transaction holds
	// nothing but inserts.
	identities := make([]model.Identity, 0, len(entries))
	for _, p := range entries {
		p.Email = normalizeEmail(p.Email)
		if err := validateCredentials(p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.School) == "" {
			return nil, fault.New(fault.CodeValidation)
		}
		tenantRec, err := r.directory.ResolveByName(ctx, p.School)
		if err != nil {
			return nil, err
		}
		identity, err := buildIdentity(role, tenantRec.ID, p)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}

	ids := make([]string, 0, len(identities))
	err := r.store.WithTx(ctx, func(tx *repository.Store) error {
		for _, identity := range identities {
			if err := storeIdentity(ctx, tx, identity); err != nil {
				return err
			}
			ids = append(ids, identity.ID)
		}
		return nil
	})
	if err != nil {
		return nil, asFault(err)
	}
	return ids, nil
}

// Login authenticates a role-typed credential pair and issues a
// tenant-scoped access token.
func (r *Registry) Login(ctx context.Context, role, email, password string) (LoginResult, error) {
	if !model.ValidRole(role) {
		return LoginResult{}, fault.New(fault.CodeValidation)
	}
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, fault.New(fault.CodeValidation)
	}

	identity, err := r.store.GetIdentityByEmail(ctx, role, email)
	if err != nil {
		if repository.IsNoRows(err) {
			return LoginResult{}, fault.New(fault.CodeNotFound)
		}
		log.Printf("identity lookup failed: %v", err)
		return LoginResult{}, fault.New(fault.CodeServerError)
	}

	if err := crypto.CheckPassword(identity.PasswordHash, password); err != nil {
		if crypto.IsMismatch(err) {
			return LoginResult{}, fault.New(fault.CodeInvalidCredential)
		}
		log.Printf("unreadable password digest for %s %s", role, identity.ID)
		return LoginResult{}, fault.New(fault.CodeIntegrity)
	}

	tenantRec, err := r.store.GetTenantByID(ctx, identity.TenantID)
	if err != nil {
		if repository.IsNoRows(err) {
			log.Printf("dangling tenant reference %s on %s %s", identity.TenantID, role, identity.ID)
			return LoginResult{}, fault.New(fault.CodeIntegrity)
		}
		log.Printf("tenant lookup failed: %v", err)
		return LoginResult{}, fault.New(fault.CodeServerError)
	}

	expiresAt := time.Now().UTC().Add(r.cfg.AccessTokenTTL)
	token, err := auth.NewAccessToken(r.cfg.JWTSecret, r.cfg.JWTIssuer, r.cfg.AccessTokenTTL, auth.Claims{
		IdentityID: identity.ID,
		Role:       role,
		TenantCode: tenantRec.Code,
	})
	if err != nil {
		log.Printf("token issue failed: %v", err)
		return LoginResult{}, fault.New(fault.CodeServerError)
	}

	return LoginResult{
		Token:      token,
		IdentityID: identity.ID,
		Role:       role,
		TenantCode: tenantRec.Code,
		ExpiresAt:  expiresAt,
	}, nil
}

type OnboardParams struct {
	Name     string
	Code     string
	Admin    *CreateParams
	Teachers []CreateParams
	Students []CreateParams
}

type OnboardResult struct {
	TenantID   string
	AdminID    string
	TeacherIDs []string
	StudentIDs []string
}

// OnboardSchool creates a tenant plus its bundled identities in one
// transaction: a failure anywhere rolls back everything, including the
// tenant row. Scope provisioning runs after commit; it is idempotent,
// so a crash in between is repaired by the next Provision call.
func (r *Registry) OnboardSchool(ctx context.Context, p OnboardParams) (OnboardResult, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Code = strings.TrimSpace(p.Code)
	if p.Name == "" || !tenant.ValidCode(p.Code) {
		return OnboardResult{}, fault.New(fault.CodeValidation)
	}

	tenantRec := model.Tenant{
		ID:        uuid.NewString(),
		Name:      p.Name,
		Code:      p.Code,
		CreatedAt: time.Now().UTC(),
	}

	var admin *model.Identity
	if p.Admin != nil {
		params := *p.Admin
		params.Email = normalizeEmail(params.Email)
		if err := validateCredentials(params); err != nil {
			return OnboardResult{}, err
		}
		identity, err := buildIdentity(model.RoleAdmin, tenantRec.ID, params)
		if err != nil {
			return OnboardResult{}, err
		}
		admin = &identity
	}
	teachers, err := buildIdentities(model.RoleTeacher, tenantRec.ID, p.Teachers)
	if err != nil {
		return OnboardResult{}, err
	}
	students, err := buildIdentities(model.RoleStudent, tenantRec.ID, p.Students)
	if err != nil {
		return OnboardResult{}, err
	}

	result := OnboardResult{TenantID: tenantRec.ID}
	err = r.store.WithTx(ctx, func(tx *repository.Store) error {
		if err := tx.CreateTenant(ctx, tenantRec); err != nil {
			if repository.IsUniqueViolation(err) {
				return fault.New(fault.CodeConflict)
			}
			return err
		}
		if admin != nil {
			if err := storeIdentity(ctx, tx, *admin); err != nil {
				return err
			}
			result.AdminID = admin.ID
		}
		for _, identity := range teachers {
			if err := storeIdentity(ctx, tx, identity); err != nil {
				return err
			}
			result.TeacherIDs = append(result.TeacherIDs, identity.ID)
		}
		for _, identity := range students {
			if err := storeIdentity(ctx, tx, identity); err != nil {
				return err
			}
			result.StudentIDs = append(result.StudentIDs, identity.ID)
		}
		return nil
	})
	if err != nil {
		return OnboardResult{}, asFault(err)
	}

	if err := r.directory.Provision(ctx, tenantRec); err != nil {
		return OnboardResult{}, err
	}
	return result, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validateCredentials(p CreateParams) error {
	if p.Email == "" || !strings.Contains(p.Email, "@") || strings.ContainsAny(p.Email, " \t") {
		return fault.New(fault.CodeValidation)
	}
	if p.Password == "" {
		return fault.New(fault.CodeValidation)
	}
	return nil
}

func buildIdentity(role, tenantID string, p CreateParams) (model.Identity, error) {
	hash, err := crypto.HashPassword(p.Password)
	if err != nil {
		log.Printf("password hash failed: %v", err)
		return model.Identity{}, fault.New(fault.CodeServerError)
	}
	now := time.Now().UTC()
	return model.Identity{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Email:        p.Email,
		PasswordHash: hash,
		Role:         role,
		FirstName:    strings.TrimSpace(p.FirstName),
		LastName:     strings.TrimSpace(p.LastName),
		CreatedAt:    now,
	}, nil
}

func buildIdentities(role, tenantID string, entries []CreateParams) ([]model.Identity, error) {
	identities := make([]model.Identity, 0, len(entries))
	for _, p := range entries {
		p.Email = normalizeEmail(p.Email)
		if err := validateCredentials(p); err != nil {
			return nil, err
		}
		identity, err := buildIdentity(role, tenantID, p)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	return identities, nil
}

func storeIdentity(ctx context.Context, store *repository.Store, identity model.Identity) error {
	if err := store.CreateIdentity(ctx, identity); err != nil {
		if repository.IsUniqueViolation(err) {
			return fault.New(fault.CodeConflict)
		}
		return err
	}
	return nil
}

func asFault(err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe
	}
	log.Printf("account registry: %v", err)
	return fault.New(fault.CodeServerError)
}
