package retentionhandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"emooti/internal/domain/auth"
	"emooti/internal/domain/retention"
	"emooti/internal/transport/http/api"
	"emooti/internal/transport/http/middleware"
	"emooti/internal/transport/http/shared"
)

type Handler struct {
	Service     *retention.Service
	Idempotency *middleware.IdempotencyStore
}

func NewHandler(service *retention.Service, idem *middleware.IdempotencyStore) *Handler {
	return &Handler{Service: service, Idempotency: idem}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/retention", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermRetentionRead)).Get("/policies", h.handleListPolicies)
		r.With(middleware.RequirePermission(auth.PermRetentionManage)).Post("/policies", h.handleCreatePolicy)
		r.With(middleware.RequirePermission(auth.PermRetentionManage)).Patch("/policies/{id}/status", h.handlePolicyStatus)
		r.With(middleware.RequirePermission(auth.PermRetentionManage)).Delete("/policies/{id}", h.handleDeletePolicy)
		r.With(middleware.RequirePermission(auth.PermRetentionManage)).Post("/execute", h.handleExecute)
		r.With(middleware.RequirePermission(auth.PermRetentionRead)).Get("/jobs", h.handleListJobs)
		r.With(middleware.RequirePermission(auth.PermRetentionRead)).Get("/jobs/{id}", h.handleGetJob)
		r.With(middleware.RequirePermission(auth.PermRetentionManage)).Post("/jobs/{id}/cancel", h.handleCancelJob)
	})
}

func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Service.ListPolicies(r.Context())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "policy_list_failed", "failed to list policies", middleware.GetRequestID(r.Context()))
		return
	}
	if entityType := r.URL.Query().Get("entityType"); entityType != "" {
		filtered := policies[:0]
		for _, p := range policies {
			if p.EntityType == entityType {
				filtered = append(filtered, p)
			}
		}
		policies = filtered
	}
	api.Success(w, policies, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())

	var in retention.CreatePolicyInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload", middleware.GetRequestID(r.Context()))
		return
	}
	in.CreatedBy = user.UserID

	policy, err := h.Service.CreatePolicy(r.Context(), in)
	if err != nil {
		if errors.Is(err, retention.ErrInvalidPolicy) {
			api.Fail(w, http.StatusBadRequest, "invalid_policy", err.Error(), middleware.GetRequestID(r.Context()))
			return
		}
		api.Fail(w, http.StatusInternalServerError, "policy_create_failed", "failed to create policy", middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, policy, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handlePolicyStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload", middleware.GetRequestID(r.Context()))
		return
	}

	status := strings.ToUpper(strings.TrimSpace(body.Status))
	v := shared.NewValidator()
	v.Enum("status", status, []string{retention.PolicyStatusActive, retention.PolicyStatusInactive, retention.PolicyStatusSuspended}, "unknown policy status")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	policy, err := h.Service.UpdatePolicyStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		if errors.Is(err, retention.ErrPolicyNotFound) {
			api.Fail(w, http.StatusNotFound, "policy_not_found", "policy not found", middleware.GetRequestID(r.Context()))
			return
		}
		api.Fail(w, http.StatusInternalServerError, "policy_update_failed", "failed to update policy", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, policy, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	err := h.Service.DeletePolicy(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		api.NoContent(w)
	case errors.Is(err, retention.ErrPolicyNotFound):
		api.Fail(w, http.StatusNotFound, "policy_not_found", "policy not found", middleware.GetRequestID(r.Context()))
	case errors.Is(err, retention.ErrPolicyActive):
		api.Fail(w, http.StatusConflict, "policy_active", "deactivate the policy before deleting it", middleware.GetRequestID(r.Context()))
	default:
		api.Fail(w, http.StatusInternalServerError, "policy_delete_failed", "failed to delete policy", middleware.GetRequestID(r.Context()))
	}
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	reqID := middleware.GetRequestID(r.Context())

	var body struct {
		EntityType string `json:"entityType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload", reqID)
		return
	}

	v := shared.NewValidator()
	v.Required("entityType", body.EntityType, "entityType is required")
	if v.Reject(w, reqID) {
		return
	}

	// Replays with the same Idempotency-Key return the stored job result
	// instead of purging twice.
	key := r.Header.Get("Idempotency-Key")
	reqHash := middleware.RequestHash([]byte(r.Method + " " + r.URL.Path + " " + body.EntityType))
	if key != "" {
		stored, found, err := h.Idempotency.Check(r.Context(), user.UserID, r.URL.Path, key, reqHash)
		if err != nil {
			if errors.Is(err, middleware.ErrIdempotencyConflict) {
				api.Fail(w, http.StatusConflict, "idempotency_conflict", "Idempotency-Key was already used with a different payload", reqID)
				return
			}
			api.Fail(w, http.StatusInternalServerError, "idempotency_check_failed", "failed to check idempotency key", reqID)
			return
		}
		if found {
			w.Header().Set("X-Idempotent-Replay", "true")
			api.WriteJSON(w, http.StatusOK, api.Envelope{Success: true, Data: json.RawMessage(stored), RequestID: reqID})
			return
		}
	}

	result, err := h.Service.Execute(r.Context(), body.EntityType, user.UserID)
	switch {
	case err == nil:
	case errors.Is(err, retention.ErrNoActivePolicy):
		api.Fail(w, http.StatusUnprocessableEntity, "no_active_policy", "no active retention policy for entity type", reqID)
		return
	case errors.Is(err, retention.ErrUnsupportedEntityType):
		api.Fail(w, http.StatusBadRequest, "unsupported_entity_type", "unsupported entity type", reqID)
		return
	default:
		details := map[string]string{}
		if result.JobID != "" {
			details["jobId"] = result.JobID
		}
		api.FailWithDetails(w, http.StatusInternalServerError, "retention_failed", "retention execution failed", details, reqID)
		return
	}

	if key != "" {
		if payload, err := json.Marshal(result); err == nil {
			if err := h.Idempotency.Save(r.Context(), user.UserID, r.URL.Path, key, reqHash, payload); err != nil && !errors.Is(err, middleware.ErrIdempotencyConflict) {
				api.Fail(w, http.StatusInternalServerError, "idempotency_save_failed", "failed to persist idempotency key", reqID)
				return
			}
		}
	}
	api.Success(w, result, reqID)
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePagination(r, 50, 200)
	q := r.URL.Query()

	jobs, total, err := h.Service.ListJobs(r.Context(), retention.JobFilter{
		EntityType: q.Get("entityType"),
		Status:     strings.ToUpper(q.Get("status")),
	}, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "job_list_failed", "failed to list retention jobs", middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, api.Page{Items: jobs, Total: total, Limit: page.Limit, Offset: page.Offset}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Service.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, retention.ErrJobNotFound) {
			api.Fail(w, http.StatusNotFound, "job_not_found", "retention job not found", middleware.GetRequestID(r.Context()))
			return
		}
		api.Fail(w, http.StatusInternalServerError, "job_get_failed", "failed to load retention job", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, job, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())

	job, err := h.Service.CancelJob(r.Context(), chi.URLParam(r, "id"), user.UserID)
	switch {
	case err == nil:
		api.Success(w, job, middleware.GetRequestID(r.Context()))
	case errors.Is(err, retention.ErrJobNotFound):
		api.Fail(w, http.StatusNotFound, "job_not_found", "retention job not found", middleware.GetRequestID(r.Context()))
	case errors.Is(err, retention.ErrJobNotCancellable):
		api.Fail(w, http.StatusConflict, "job_not_cancellable", "only scheduled or in-progress jobs can be cancelled", middleware.GetRequestID(r.Context()))
	default:
		api.Fail(w, http.StatusInternalServerError, "job_cancel_failed", "failed to cancel retention job", middleware.GetRequestID(r.Context()))
	}
}
