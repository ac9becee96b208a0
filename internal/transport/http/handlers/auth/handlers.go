package authhandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	platformauth "emooti/internal/auth"
	"emooti/internal/domain/anomaly"
	"emooti/internal/domain/audit"
	domauth "emooti/internal/domain/auth"
	"emooti/internal/transport/http/api"
	"emooti/internal/transport/http/middleware"
	"emooti/internal/transport/http/shared"
)

const tokenTTL = 24 * time.Hour

type Handler struct {
	Store    *domauth.Store
	Audits   *audit.Service
	Detector *anomaly.Detector
	Secret   string
}

func NewHandler(store *domauth.Store, audits *audit.Service, detector *anomaly.Detector, secret string) *Handler {
	return &Handler{Store: store, Audits: audits, Detector: detector, Secret: secret}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload", reqID)
		return
	}

	v := shared.NewValidator()
	v.Required("email", body.Email, "email is required")
	v.Required("password", body.Password, "password is required")
	if v.Reject(w, reqID) {
		return
	}

	email := strings.ToLower(strings.TrimSpace(body.Email))
	user, err := h.Store.FindActiveUserByEmail(r.Context(), email)
	if err != nil {
		// Unknown accounts are recorded against the attempted email so
		// credential stuffing still shows up in the audit trail.
		h.recordLogin(r, "", audit.ActionLoginFailed, map[string]any{"email": email, "reason": "unknown user"})
		api.Fail(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password", reqID)
		return
	}

	if err := platformauth.CheckPassword(user.Password, body.Password); err != nil {
		h.recordLogin(r, user.ID, audit.ActionLoginFailed, map[string]any{"email": email, "reason": "wrong password"})
		h.Detector.RecordFailedLogin(r.Context(), user.ID)
		api.Fail(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password", reqID)
		return
	}

	token, err := platformauth.GenerateToken(h.Secret, platformauth.Claims{
		UserID:   user.ID,
		RoleName: user.RoleName,
		Email:    user.Email,
	}, tokenTTL)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "token_failed", "failed to issue token", reqID)
		return
	}

	h.Detector.ResetFailedLogins(user.ID)
	if err := h.Store.UpdateLastLogin(r.Context(), user.ID); err != nil {
		slog.Warn("update last login failed", slog.String("userId", user.ID), slog.Any("error", err))
	}
	h.recordLogin(r, user.ID, audit.ActionLoginSuccess, map[string]any{"email": email})

	api.Success(w, map[string]any{
		"token": token,
		"user": map[string]string{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.RoleName,
		},
		"expiresIn": int(tokenTTL.Seconds()),
	}, reqID)
}

// handleLogout exists for clients that expect it; tokens are stateless, so the
// only server-side effect is the audit entry.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if user, ok := middleware.GetUser(r.Context()); ok {
		h.recordLogin(r, user.UserID, audit.ActionDataAccess, map[string]any{"operation": "logout"})
	}
	api.Success(w, map[string]string{"status": "logged out"}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) recordLogin(r *http.Request, userID, action string, details map[string]any) {
	_, _ = h.Audits.Append(r.Context(), audit.AppendInput{
		UserID:       userID,
		Action:       action,
		ResourceType: "Session",
		Details:      details,
		IPAddress:    middleware.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
