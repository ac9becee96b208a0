package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"emooti/internal/auth"
	domauth "emooti/internal/domain/auth"
)

const testSecret = "middleware-test-secret"

func bearerToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, auth.Claims{
		UserID:   "user-1",
		RoleName: domauth.RoleAdmin,
		Email:    "admin@example.org",
	}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func TestAuthResolvesUser(t *testing.T) {
	var user domauth.UserContext
	var found bool
	handler := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, found = GetUser(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !found {
		t.Fatal("expected user in context")
	}
	if user.UserID != "user-1" || user.RoleName != domauth.RoleAdmin {
		t.Fatalf("user = %+v", user)
	}
}

func TestAuthPassesThroughWithoutToken(t *testing.T) {
	var found bool
	handler := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, found = GetUser(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if found {
		t.Fatal("expected anonymous context")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthIgnoresInvalidToken(t *testing.T) {
	var found bool
	handler := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, found = GetUser(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if found {
		t.Fatal("invalid token must not resolve a user")
	}
}

func TestRequirePermission(t *testing.T) {
	protected := RequirePermission(domauth.PermRetentionManage)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	chain := Auth(testSecret)(protected)

	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/retention/execute", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/retention/execute", nil)
	req.Header.Set("Authorization", "Bearer "+bearerToken(t))
	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", rec.Code)
	}

	staffToken, err := auth.GenerateToken(testSecret, auth.Claims{
		UserID:   "user-2",
		RoleName: domauth.RoleStaff,
	}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/v1/retention/execute", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken)
	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff status = %d, want 403", rec.Code)
	}
}
