package tenant

import (
	"context"
	"encoding/json"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"eruditiontx/tenancy/internal/fault"
	"eruditiontx/tenancy/internal/model"
	"eruditiontx/tenancy/internal/repository"
)

// codePattern keeps tenant codes schema-safe: the code is the only
// request-supplied input that ever reaches DDL.
var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,16}$`)

type Directory struct {
	store    *repository.Store
	cache    *redis.Client
	cacheTTL time.Duration
}

func NewDirectory(store *repository.Store, cache *redis.Client, cacheTTL time.Duration) *Directory {
	return &Directory{store: store, cache: cache, cacheTTL: cacheTTL}
}

// Register persists a new tenant and provisions its data scope. The
// code and name unique indexes decide conflicts, not a pre-check, so
// two concurrent registrations of the same school cannot both win.
func (d *Directory) Register(ctx context.Context, name, code string) (model.Tenant, error) {
	name = strings.TrimSpace(name)
	code = strings.TrimSpace(code)
	if name == "" || !codePattern.MatchString(code) {
		return model.Tenant{}, fault.New(fault.CodeValidation)
	}

	tenant := model.Tenant{
		ID:        uuid.NewString(),
		Name:      name,
		Code:      code,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.CreateTenant(ctx, tenant); err != nil {
		if repository.IsUniqueViolation(err) {
			return model.Tenant{}, fault.New(fault.CodeConflict)
		}
		log.Printf("tenant register failed: %v", err)
		return model.Tenant{}, fault.New(fault.CodeServerError)
	}

	if err := d.Provision(ctx, tenant); err != nil {
		return model.Tenant{}, err
	}
	tenant.Provisioned = true
	d.cacheSet(ctx, tenant)
	return tenant, nil
}

// Resolve maps a tenant code to its record. The cache keeps request
// routing off the shared store on the hot path.
func (d *Directory) Resolve(ctx context.Context, code string) (model.Tenant, error) {
	if tenant, ok := d.cacheGet(ctx, code); ok {
		return tenant, nil
	}
	tenant, err := d.store.GetTenantByCode(ctx, code)
	if err != nil {
		if repository.IsNoRows(err) {
			return model.Tenant{}, fault.New(fault.CodeTenantNotFound)
		}
		log.Printf("tenant resolve failed: %v", err)
		return model.Tenant{}, fault.New(fault.CodeServerError)
	}
	d.cacheSet(ctx, tenant)
	return tenant, nil
}

func (d *Directory) ResolveByName(ctx context.Context, name string) (model.Tenant, error) {
	tenant, err := d.store.GetTenantByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if repository.IsNoRows(err) {
			return model.Tenant{}, fault.New(fault.CodeTenantNotFound)
		}
		log.Printf("tenant resolve failed: %v", err)
		return model.Tenant{}, fault.New(fault.CodeServerError)
	}
	return tenant, nil
}

// Provision creates the tenant's schema and its fixed table set. Every
// statement is IF NOT EXISTS: re-provisioning an already live tenant
// must not touch existing data. Safe to call again after a crash
// between tenant commit and provisioning.
func (d *Directory) Provision(ctx context.Context, tenant model.Tenant) error {
	pool := d.store.Pool()
	for _, stmt := range scopeDDL(SchemaName(tenant.Code)) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			log.Printf("tenant provisioning failed for %s: %v", tenant.Code, err)
			return fault.New(fault.CodeServerError)
		}
	}
	if err := d.store.MarkTenantProvisioned(ctx, tenant.ID); err != nil {
		log.Printf("tenant provisioned flag update failed for %s: %v", tenant.Code, err)
		return fault.New(fault.CodeServerError)
	}
	return nil
}

// ValidCode reports whether code is acceptable as a tenant routing key.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// SchemaName derives the Postgres schema for a tenant code. Codes are
// validated against codePattern before they get here.
func SchemaName(code string) string {
	return "tenant_" + strings.ToLower(strings.ReplaceAll(code, "-", "_"))
}

func (d *Directory) cacheKey(code string) string {
	return "tenant:" + code
}

func (d *Directory) cacheGet(ctx context.Context, code string) (model.Tenant, bool) {
	if d.cache == nil {
		return model.Tenant{}, false
	}
	raw, err := d.cache.Get(ctx, d.cacheKey(code)).Bytes()
	if err != nil {
		return model.Tenant{}, false
	}
	var tenant model.Tenant
	if err := json.Unmarshal(raw, &tenant); err != nil {
		return model.Tenant{}, false
	}
	return tenant, true
}

func (d *Directory) cacheSet(ctx context.Context, tenant model.Tenant) {
	if d.cache == nil {
		return
	}
	raw, err := json.Marshal(tenant)
	if err != nil {
		return
	}
	_ = d.cache.Set(ctx, d.cacheKey(tenant.Code), raw, d.cacheTTL).Err()
}
