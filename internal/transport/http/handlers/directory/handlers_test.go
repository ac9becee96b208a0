package directoryhandler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	platformauth "emooti/internal/auth"
	"emooti/internal/domain/audit"
	domauth "emooti/internal/domain/auth"
	"emooti/internal/domain/directory"
	"emooti/internal/transport/http/middleware"
)

const testSecret = "directory-handler-test-secret"

type fakeDirectory struct {
	users    map[string]*directory.User
	students []directory.Student
	statuses map[string]string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users: map[string]*directory.User{
			"u1": {ID: "u1", Email: "staff@example.org", Role: domauth.RoleStaff, Status: directory.UserStatusActive},
		},
		students: []directory.Student{{ID: "s1", Reference: "S-001", Status: directory.StudentStatusActive}},
		statuses: map[string]string{},
	}
}

func (f *fakeDirectory) GetUser(_ context.Context, id string) (*directory.User, error) {
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeDirectory) ListUsers(_ context.Context, _, _ int) ([]directory.User, error) {
	var out []directory.User
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeDirectory) CountUsers(_ context.Context) (int, error) {
	return len(f.users), nil
}

func (f *fakeDirectory) SetUserStatus(_ context.Context, userID, status string) error {
	u, ok := f.users[userID]
	if !ok {
		return directory.ErrUserNotFound
	}
	u.Status = status
	f.statuses[userID] = status
	return nil
}

func (f *fakeDirectory) ListStudents(_ context.Context, _, _ int) ([]directory.Student, error) {
	return f.students, nil
}

type fakeAppender struct {
	entries []audit.AppendInput
}

func (f *fakeAppender) Append(_ context.Context, in audit.AppendInput) (audit.Entry, error) {
	f.entries = append(f.entries, in)
	return audit.Entry{ID: "entry"}, nil
}

func newTestRouter(store Directory, audits AuditAppender) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Auth(testSecret))
	router.Route("/api/v1", func(r chi.Router) {
		NewHandler(store, audits).RegisterRoutes(r)
	})
	return router
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := platformauth.GenerateToken(testSecret, platformauth.Claims{
		UserID:   "admin-1",
		RoleName: role,
		Email:    "admin@example.org",
	}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func doRequest(t *testing.T, router http.Handler, method, path, body, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, role))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListUsersRequiresPermission(t *testing.T) {
	router := newTestRouter(newFakeDirectory(), &fakeAppender{})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/users", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/users", "", domauth.RoleExaminer)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("examiner status = %d, want 403", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/users", "", domauth.RoleStaff)
	if rec.Code != http.StatusOK {
		t.Fatalf("staff status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Total-Count"); got != "1" {
		t.Fatalf("X-Total-Count = %q, want 1", got)
	}
}

func TestGetUserNotFound(t *testing.T) {
	router := newTestRouter(newFakeDirectory(), &fakeAppender{})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/users/missing", "", domauth.RoleAdmin)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSetUserStatusUpdatesAndAudits(t *testing.T) {
	store := newFakeDirectory()
	audits := &fakeAppender{}
	router := newTestRouter(store, audits)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/users/u1/status",
		`{"status":"inactive"}`, domauth.RoleAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if store.statuses["u1"] != directory.UserStatusInactive {
		t.Fatalf("stored status = %q, want inactive", store.statuses["u1"])
	}

	if len(audits.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(audits.entries))
	}
	entry := audits.entries[0]
	if entry.Action != audit.ActionUserManagement || entry.ResourceID != "u1" {
		t.Fatalf("audit entry = %+v", entry)
	}
	if entry.UserID != "admin-1" {
		t.Fatalf("audit actor = %q, want admin-1", entry.UserID)
	}

	var envelope struct {
		Data directory.User `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Status != directory.UserStatusInactive {
		t.Fatalf("response status = %q", envelope.Data.Status)
	}
}

func TestSetUserStatusValidation(t *testing.T) {
	router := newTestRouter(newFakeDirectory(), &fakeAppender{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/users/u1/status",
		`{"status":"retired"}`, domauth.RoleAdmin)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/users/u1/status",
		`{"status":"inactive"}`, domauth.RoleStaff)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff mutate status = %d, want 403", rec.Code)
	}
}

func TestSetUserStatusUnknownUser(t *testing.T) {
	router := newTestRouter(newFakeDirectory(), &fakeAppender{})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/users/missing/status",
		`{"status":"inactive"}`, domauth.RoleAdmin)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListStudents(t *testing.T) {
	router := newTestRouter(newFakeDirectory(), &fakeAppender{})

	rec := doRequest(t, router, http.MethodGet, "/api/v1/students", "", domauth.RoleStaff)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var envelope struct {
		Data struct {
			Items []directory.Student `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(envelope.Data.Items) != 1 || envelope.Data.Items[0].Reference != "S-001" {
		t.Fatalf("students = %+v", envelope.Data.Items)
	}
}
