package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eruditiontx/tenancy/internal/auth"
	"eruditiontx/tenancy/internal/config"
)

func guardServer(t *testing.T) (*Server, config.Config) {
	t.Helper()
	cfg := config.Config{
		JWTSecret:      "test-secret",
		JWTIssuer:      "test-issuer",
		AccessTokenTTL: 15 * time.Minute,
	}
	return NewServer(cfg, nil, nil), cfg
}

func issueToken(t *testing.T, cfg config.Config, role string, ttl time.Duration) string {
	t.Helper()
	token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, ttl, auth.Claims{
		IdentityID: "identity-1",
		Role:       role,
		TenantCode: "LH01",
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return token
}

func TestAccessGuard(t *testing.T) {
	server, cfg := guardServer(t)

	var seen *auth.Claims
	probe := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = claimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	guarded := server.authMiddleware(server.requireRole("teacher")(probe))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.token", http.StatusUnauthorized},
		{"expired token", "Bearer " + issueToken(t, cfg, "teacher", 0), http.StatusUnauthorized},
		{"wrong role", "Bearer " + issueToken(t, cfg, "student", time.Minute), http.StatusForbidden},
		{"admin is not a teacher", "Bearer " + issueToken(t, cfg, "admin", time.Minute), http.StatusForbidden},
		{"teacher passes", "Bearer " + issueToken(t, cfg, "teacher", time.Minute), http.StatusOK},
	}

	for _, c := range cases {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		if rec.Code != c.status {
			t.Fatalf("%s: expected %d, got %d", c.name, c.status, rec.Code)
		}
		if c.status == http.StatusOK {
			if seen == nil || seen.Role != "teacher" || seen.TenantCode != "LH01" || seen.IdentityID != "identity-1" {
				t.Fatalf("%s: handler saw wrong claims: %+v", c.name, seen)
			}
		} else if seen != nil {
			t.Fatalf("%s: handler must not run", c.name)
		}
	}
}

func TestRequireRoleAllowsAnyListedRole(t *testing.T) {
	server, cfg := guardServer(t)

	probe := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guarded := server.authMiddleware(server.requireRole("admin", "teacher")(probe))

	for role, status := range map[string]int{
		"admin":   http.StatusOK,
		"teacher": http.StatusOK,
		"student": http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+issueToken(t, cfg, role, time.Minute))
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		if rec.Code != status {
			t.Fatalf("role %s: expected %d, got %d", role, status, rec.Code)
		}
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"Bearer abc":   "abc",
		"bearer abc":   "abc",
		"Bearer  abc ": "abc",
		"Token abc":    "",
		"Bearerabc":    "",
	}
	for header, expect := range cases {
		if got := bearerToken(header); got != expect {
			t.Fatalf("header %q: expected %q, got %q", header, expect, got)
		}
	}
}
