package privacyhandler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"emooti/internal/domain/auth"
	"emooti/internal/domain/privacy"
	"emooti/internal/transport/http/api"
	"emooti/internal/transport/http/middleware"
	"emooti/internal/transport/http/shared"
)

type Handler struct {
	Service *privacy.Service
}

func NewHandler(service *privacy.Service) *Handler {
	return &Handler{Service: service}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/pseudonym", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermPseudonymManage)).Post("/", h.handlePseudonymize)
		r.With(middleware.RequirePermission(auth.PermPseudonymManage)).Post("/mappings", h.handleCreateMapping)
		r.With(middleware.RequirePermission(auth.PermPseudonymManage)).Get("/mappings", h.handleListMappings)
		r.With(middleware.RequirePermission(auth.PermPseudonymManage)).Post("/mappings/{pseudonym}/reveal", h.handleReveal)
	})
	r.Route("/consents", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermConsentsManage)).Get("/", h.handleListConsents)
		r.With(middleware.RequirePermission(auth.PermConsentsManage)).Post("/", h.handleRecordConsent)
		r.With(middleware.RequirePermission(auth.PermConsentsManage)).Post("/{id}/revoke", h.handleRevokeConsent)
	})
}

// handlePseudonymize derives the pseudonym without persisting a mapping,
// for callers that only need the stable replacement value.
func (h *Handler) handlePseudonymize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("value", body.Value, "value is required")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	api.Success(w, map[string]string{"pseudonym": h.Service.Pseudonymize(body.Value)}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())

	var in privacy.CreateMappingInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload", middleware.GetRequestID(r.Context()))
		return
	}
	in.CreatedBy = user.UserID

	mapping, err := h.Service.CreateMapping(r.Context(), in)
	if err != nil {
		if errors.Is(err, privacy.ErrInvalidMapping) {
			api.Fail(w, http.StatusBadRequest, "invalid_mapping", err.Error(), middleware.GetRequestID(r.Context()))
			return
		}
		api.Fail(w, http.StatusInternalServerError, "mapping_create_failed", "failed to create mapping", middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, mapping, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListMappings(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePagination(r, 50, 200)
	mappings, err := h.Service.ListMappings(r.Context(), r.URL.Query().Get("entityType"), page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "mapping_list_failed", "failed to list mappings", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, mappings, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleReveal(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())

	original, err := h.Service.RevealMapping(r.Context(), chi.URLParam(r, "pseudonym"), user.UserID)
	switch {
	case err == nil:
		api.Success(w, map[string]string{"originalValue": original}, middleware.GetRequestID(r.Context()))
	case errors.Is(err, privacy.ErrMappingNotFound):
		api.Fail(w, http.StatusNotFound, "mapping_not_found", "pseudonym mapping not found", middleware.GetRequestID(r.Context()))
	case errors.Is(err, privacy.ErrRevealUnavailable):
		api.Fail(w, http.StatusConflict, "reveal_unavailable", "original value cannot be recovered for this mapping", middleware.GetRequestID(r.Context()))
	default:
		api.Fail(w, http.StatusInternalServerError, "reveal_failed", "failed to reveal mapping", middleware.GetRequestID(r.Context()))
	}
}

func (h *Handler) handleListConsents(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subjectId")
	v := shared.NewValidator()
	v.Required("subjectId", subjectID, "subjectId query parameter is required")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	consents, err := h.Service.ListConsents(r.Context(), subjectID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "consent_list_failed", "failed to list consents", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, consents, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRecordConsent(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())

	var in privacy.RecordConsentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload", middleware.GetRequestID(r.Context()))
		return
	}
	in.RecordedBy = user.UserID

	consent, err := h.Service.RecordConsent(r.Context(), in)
	if err != nil {
		if errors.Is(err, privacy.ErrInvalidConsent) {
			api.Fail(w, http.StatusBadRequest, "invalid_consent", err.Error(), middleware.GetRequestID(r.Context()))
			return
		}
		api.Fail(w, http.StatusInternalServerError, "consent_record_failed", "failed to record consent", middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, consent, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())

	consent, err := h.Service.RevokeConsent(r.Context(), chi.URLParam(r, "id"), user.UserID)
	switch {
	case err == nil:
		api.Success(w, consent, middleware.GetRequestID(r.Context()))
	case errors.Is(err, privacy.ErrConsentNotFound):
		api.Fail(w, http.StatusNotFound, "consent_not_found", "consent record not found", middleware.GetRequestID(r.Context()))
	default:
		api.Fail(w, http.StatusInternalServerError, "consent_revoke_failed", "failed to revoke consent", middleware.GetRequestID(r.Context()))
	}
}
