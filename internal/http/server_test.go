package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"eruditiontx/tenancy/internal/account"
	"eruditiontx/tenancy/internal/auth"
	"eruditiontx/tenancy/internal/config"
	"eruditiontx/tenancy/internal/db"
	"eruditiontx/tenancy/internal/fault"
	"eruditiontx/tenancy/internal/repository"
	"eruditiontx/tenancy/internal/tenant"
)

type testEnv struct {
	app       *httptest.Server
	cfg       config.Config
	directory *tenant.Directory
}

func openTestDB(t *testing.T) *pgxpool.Pool {
	url := os.Getenv("TENANCY_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("TENANCY_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		pool.Close()
		t.Fatalf("schema bootstrap failed: %v", err)
	}
	return pool
}

func newTestEnv(t *testing.T, pool *pgxpool.Pool) testEnv {
	cfg := config.Config{
		HTTPAddr:       ":0",
		JWTSecret:      "test-secret",
		JWTIssuer:      "test-issuer",
		AccessTokenTTL: 15 * time.Minute,
	}
	store := repository.NewStore(pool)
	directory := tenant.NewDirectory(store, nil, 0)
	registry := account.NewRegistry(cfg, store, directory)
	server := NewServer(cfg, directory, registry)
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return testEnv{app: app, cfg: cfg, directory: directory}
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
}

func TestSchoolOnboardingAndLogin(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	env := newTestEnv(t, pool)

	suffix := time.Now().Format("150405")
	schoolName := "Lincoln High " + suffix
	schoolCode := "LH" + suffix

	resp := doReq(t, http.MethodPost, env.app.URL+"/accounts/school/create", "", map[string]interface{}{
		"name": schoolName,
		"code": schoolCode,
		"admin": map[string]string{
			"email":    "a." + suffix + "@lh.test",
			"password": "pw123",
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created createSchoolResponse
	decodeBody(t, resp, &created)
	if created.TenantID == "" || created.AdminID == "" {
		t.Fatalf("expected tenant and admin ids, got %+v", created)
	}

	// Same school again must conflict.
	resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/school/create", "", map[string]interface{}{
		"name": schoolName,
		"code": schoolCode,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	// Admin login returns a token scoped to the school.
	resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/admin/login", "", map[string]string{
		"email":    "a." + suffix + "@lh.test",
		"password": "pw123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var login loginResponse
	decodeBody(t, resp, &login)
	if login.TenantCode != schoolCode || login.Role != "admin" {
		t.Fatalf("unexpected login result: %+v", login)
	}
	claims, err := auth.ParseToken(env.cfg.JWTSecret, env.cfg.JWTIssuer, login.AccessToken)
	if err != nil {
		t.Fatalf("token parse error: %v", err)
	}
	if claims.TenantCode != schoolCode || claims.Role != "admin" || claims.IdentityID != created.AdminID {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	// Wrong password.
	resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/admin/login", "", map[string]string{
		"email":    "a." + suffix + "@lh.test",
		"password": "nope",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// Unknown account in the admin registry.
	resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/admin/login", "", map[string]string{
		"email":    "ghost." + suffix + "@lh.test",
		"password": "pw123",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	// Duplicate admin email within the role registry conflicts.
	resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/admin/create", "", map[string]string{
		"email":    "a." + suffix + "@lh.test",
		"password": "pw456",
		"school":   schoolName,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	// Creating against a school that does not exist.
	resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/teacher/create", "", map[string]string{
		"email":    "t." + suffix + "@lh.test",
		"password": "pw123",
		"school":   "No Such School " + suffix,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestOnboardingRollsBackOnBadEntry(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	env := newTestEnv(t, pool)

	suffix := time.Now().Format("150405")
	schoolName := "Rollback High " + suffix
	schoolCode := "RB" + suffix

	resp := doReq(t, http.MethodPost, env.app.URL+"/accounts/school/create", "", map[string]interface{}{
		"name": schoolName,
		"code": schoolCode,
		"admin": map[string]string{
			"email":    "a." + suffix + "@rb.test",
			"password": "pw123",
		},
		"teachers": []map[string]string{
			{"email": "t1." + suffix + "@rb.test", "password": "pw123"},
			{"email": "t2." + suffix + "@rb.test"}, // missing password
		},
		"students": []map[string]string{
			{"email": "s1." + suffix + "@rb.test", "password": "pw123"},
		},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	// All-or-nothing: neither the tenant nor any identity survives.
	_, err := env.directory.ResolveByName(context.Background(), schoolName)
	if !fault.Is(err, fault.CodeTenantNotFound) {
		t.Fatalf("expected tenant_not_found after rollback, got %v", err)
	}
	resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/admin/login", "", map[string]string{
		"email":    "a." + suffix + "@rb.test",
		"password": "pw123",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for rolled-back admin, got %d", resp.StatusCode)
	}
}

func TestQuestionBankIsTenantScoped(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	env := newTestEnv(t, pool)

	suffix := time.Now().Format("150405")
	teacherTokens := make([]string, 0, 2)
	for i, prefix := range []string{"QA", "QB"} {
		resp := doReq(t, http.MethodPost, env.app.URL+"/accounts/school/create", "", map[string]interface{}{
			"name": prefix + " School " + suffix,
			"code": prefix + suffix,
			"teachers": []map[string]string{
				{"email": "t." + prefix + "." + suffix + "@q.test", "password": "pw123"},
			},
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("school %d: expected 201, got %d", i, resp.StatusCode)
		}
		resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/teacher/login", "", map[string]string{
			"email":    "t." + prefix + "." + suffix + "@q.test",
			"password": "pw123",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("school %d login: expected 200, got %d", i, resp.StatusCode)
		}
		var login loginResponse
		decodeBody(t, resp, &login)
		teacherTokens = append(teacherTokens, login.AccessToken)
	}

	// Teacher A creates a question in school A's scope.
	resp := doReq(t, http.MethodPost, env.app.URL+"/questions/create", teacherTokens[0], map[string]interface{}{
		"subject":  "math",
		"question": "What is 2+2?",
		"options":  []string{"3", "4", "5"},
		"answer":   "4",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var question questionResponse
	decodeBody(t, resp, &question)

	// Visible to teacher A.
	resp = doReq(t, http.MethodGet, env.app.URL+"/questions/"+question.ID, teacherTokens[0], nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// Invisible to teacher B: same id resolves against school B's scope.
	resp = doReq(t, http.MethodGet, env.app.URL+"/questions/"+question.ID, teacherTokens[1], nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 across tenants, got %d", resp.StatusCode)
	}

	// Update and delete in the owning scope.
	resp = doReq(t, http.MethodPut, env.app.URL+"/questions/update/"+question.ID, teacherTokens[0], map[string]string{
		"answer": "four",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var updated questionResponse
	decodeBody(t, resp, &updated)
	if updated.Answer != "four" || updated.Question != "What is 2+2?" {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	resp = doReq(t, http.MethodDelete, env.app.URL+"/questions/delete/"+question.ID, teacherTokens[0], nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodGet, env.app.URL+"/questions/"+question.ID, teacherTokens[0], nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}

	// Students never reach the question bank.
	resp = doReq(t, http.MethodGet, env.app.URL+"/questions/", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}

func TestBulkCreateListIsAtomic(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	env := newTestEnv(t, pool)

	suffix := time.Now().Format("150405")
	schoolName := "Batch High " + suffix
	schoolCode := "BH" + suffix

	resp := doReq(t, http.MethodPost, env.app.URL+"/accounts/school/create", "", map[string]interface{}{
		"name": schoolName,
		"code": schoolCode,
		"admin": map[string]string{
			"email":    "a." + suffix + "@bh.test",
			"password": "pw123",
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/admin/login", "", map[string]string{
		"email":    "a." + suffix + "@bh.test",
		"password": "pw123",
	})
	var login loginResponse
	decodeBody(t, resp, &login)

	// Batch creation requires an admin token.
	resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/student/create-list", "", map[string]interface{}{
		"accounts": []map[string]string{},
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	// A batch with one duplicate email leaves no rows behind.
	resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/student/create-list", login.AccessToken, map[string]interface{}{
		"accounts": []map[string]string{
			{"email": "s1." + suffix + "@bh.test", "password": "pw123", "school": schoolName},
			{"email": "s1." + suffix + "@bh.test", "password": "pw123", "school": schoolName},
		},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/student/login", "", map[string]string{
		"email":    "s1." + suffix + "@bh.test",
		"password": "pw123",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected rolled-back student to be absent, got %d", resp.StatusCode)
	}

	// The same batch without the duplicate succeeds.
	resp = doReq(t, http.MethodPost, env.app.URL+"/accounts/student/create-list", login.AccessToken, map[string]interface{}{
		"accounts": []map[string]string{
			{"email": "s1." + suffix + "@bh.test", "password": "pw123", "school": schoolName},
			{"email": "s2." + suffix + "@bh.test", "password": "pw123", "school": schoolName},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var createdList struct {
		IDs []string `json:"ids"`
	}
	decodeBody(t, resp, &createdList)
	if len(createdList.IDs) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(createdList.IDs))
	}
}
