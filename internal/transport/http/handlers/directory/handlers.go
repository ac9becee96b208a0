package directoryhandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"emooti/internal/domain/audit"
	"emooti/internal/domain/auth"
	"emooti/internal/domain/directory"
	"emooti/internal/transport/http/api"
	"emooti/internal/transport/http/middleware"
	"emooti/internal/transport/http/shared"
)

// Directory is the slice of the directory store the handlers need.
type Directory interface {
	GetUser(ctx context.Context, id string) (*directory.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]directory.User, error)
	CountUsers(ctx context.Context) (int, error)
	SetUserStatus(ctx context.Context, userID, status string) error
	ListStudents(ctx context.Context, limit, offset int) ([]directory.Student, error)
}

// AuditAppender records user management actions on the audit trail.
type AuditAppender interface {
	Append(ctx context.Context, in audit.AppendInput) (audit.Entry, error)
}

type Handler struct {
	Store  Directory
	Audits AuditAppender
}

func NewHandler(store Directory, audits AuditAppender) *Handler {
	return &Handler{Store: store, Audits: audits}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermUsersRead)).Get("/", h.handleListUsers)
		r.With(middleware.RequirePermission(auth.PermUsersRead)).Get("/{id}", h.handleGetUser)
		r.With(middleware.RequirePermission(auth.PermUsersManage)).Post("/{id}/status", h.handleSetUserStatus)
	})
	r.With(middleware.RequirePermission(auth.PermUsersRead)).Get("/students", h.handleListStudents)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePagination(r, 50, 200)

	total, err := h.Store.CountUsers(r.Context())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "users_count_failed", "failed to count users", middleware.GetRequestID(r.Context()))
		return
	}
	users, err := h.Store.ListUsers(r.Context(), page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "users_list_failed", "failed to list users", middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, api.Page{Items: users, Total: total, Limit: page.Limit, Offset: page.Offset}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "user_lookup_failed", "failed to look up user", middleware.GetRequestID(r.Context()))
		return
	}
	if user == nil {
		api.Fail(w, http.StatusNotFound, "user_not_found", "user not found", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, user, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("status", body.Status, "status is required")
	v.Enum("status", body.Status,
		[]string{directory.UserStatusActive, directory.UserStatusInactive},
		"status must be active or inactive")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	if err := h.Store.SetUserStatus(r.Context(), id, body.Status); err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			api.Fail(w, http.StatusNotFound, "user_not_found", "user not found", middleware.GetRequestID(r.Context()))
			return
		}
		api.Fail(w, http.StatusInternalServerError, "user_update_failed", "failed to update user status", middleware.GetRequestID(r.Context()))
		return
	}

	actor, _ := middleware.GetUser(r.Context())
	if _, err := h.Audits.Append(r.Context(), audit.AppendInput{
		UserID:       actor.UserID,
		Action:       audit.ActionUserManagement,
		ResourceType: "User",
		ResourceID:   id,
		Details:      map[string]any{"status": body.Status},
		IPAddress:    middleware.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		slog.Warn("failed to audit user status change", "userId", id, "error", err)
	}

	user, err := h.Store.GetUser(r.Context(), id)
	if err != nil || user == nil {
		api.Fail(w, http.StatusInternalServerError, "user_lookup_failed", "failed to look up user", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, user, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePagination(r, 50, 200)

	students, err := h.Store.ListStudents(r.Context(), page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "students_list_failed", "failed to list students", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]any{
		"items":  students,
		"limit":  page.Limit,
		"offset": page.Offset,
	}, middleware.GetRequestID(r.Context()))
}
