package alertshandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"emooti/internal/domain/anomaly"
	"emooti/internal/domain/auth"
	"emooti/internal/transport/http/api"
	"emooti/internal/transport/http/middleware"
	"emooti/internal/transport/http/shared"
)

type Handler struct {
	Service  *anomaly.Service
	Detector *anomaly.Detector
}

func NewHandler(service *anomaly.Service, detector *anomaly.Detector) *Handler {
	return &Handler{Service: service, Detector: detector}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermAlertsRead)).Get("/", h.handleList)
		r.With(middleware.RequirePermission(auth.PermAlertsRead)).Get("/{id}", h.handleGet)
		r.With(middleware.RequirePermission(auth.PermAlertsManage)).Post("/{id}/resolve", h.handleResolve)
		r.With(middleware.RequirePermission(auth.PermAlertsManage)).Post("/{id}/status", h.handleStatus)
		r.With(middleware.RequirePermission(auth.PermAlertsManage)).Post("/detect", h.handleDetect)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePagination(r, 50, 200)
	q := r.URL.Query()
	filter := anomaly.Filter{
		Type:     q.Get("type"),
		Severity: q.Get("severity"),
		Status:   q.Get("status"),
		UserID:   q.Get("userId"),
	}

	total, err := h.Service.Count(r.Context(), filter)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "alert_count_failed", "failed to count alerts", middleware.GetRequestID(r.Context()))
		return
	}
	alerts, err := h.Service.List(r.Context(), filter, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "alert_list_failed", "failed to list alerts", middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, api.Page{Items: alerts, Total: total, Limit: page.Limit, Offset: page.Offset}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	alert, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, anomaly.ErrAlertNotFound) {
			api.Fail(w, http.StatusNotFound, "alert_not_found", "alert not found", middleware.GetRequestID(r.Context()))
			return
		}
		api.Fail(w, http.StatusInternalServerError, "alert_get_failed", "failed to load alert", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, alert, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())

	var body struct {
		Notes         string `json:"notes"`
		FalsePositive bool   `json:"falsePositive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload", middleware.GetRequestID(r.Context()))
		return
	}

	alert, err := h.Service.ResolveAlert(r.Context(), chi.URLParam(r, "id"), body.Notes, user.UserID, body.FalsePositive)
	if err != nil {
		h.failResolution(w, r, err)
		return
	}
	api.Success(w, alert, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload", middleware.GetRequestID(r.Context()))
		return
	}
	if strings.ToUpper(strings.TrimSpace(body.Status)) != anomaly.StatusInvestigating {
		api.Fail(w, http.StatusBadRequest, "invalid_status", "only INVESTIGATING can be set directly", middleware.GetRequestID(r.Context()))
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.Service.MarkInvestigating(r.Context(), id); err != nil {
		h.failResolution(w, r, err)
		return
	}
	alert, err := h.Service.Get(r.Context(), id)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "alert_get_failed", "failed to load alert", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, alert, middleware.GetRequestID(r.Context()))
}

// handleDetect is the generic entry point for callers that score activity
// themselves and hand over a risk score.
func (h *Handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID      string         `json:"userId"`
		Type        string         `json:"type"`
		Description string         `json:"description"`
		RiskScore   int            `json:"riskScore"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload", middleware.GetRequestID(r.Context()))
		return
	}

	v := shared.NewValidator()
	v.Required("type", body.Type, "alert type is required")
	v.Required("description", body.Description, "description is required")
	if body.RiskScore < 0 || body.RiskScore > 100 {
		v.Add("riskScore", "must be between 0 and 100")
	}
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	alert, err := h.Detector.DetectAnomaly(r.Context(), body.UserID, body.Type, body.Description, body.Metadata, body.RiskScore)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "detect_failed", "failed to record anomaly", middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, alert, middleware.GetRequestID(r.Context()))
}

func (h *Handler) failResolution(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, anomaly.ErrAlertNotFound):
		api.Fail(w, http.StatusNotFound, "alert_not_found", "alert not found", reqID)
	case errors.Is(err, anomaly.ErrNotesRequired),
		errors.Is(err, anomaly.ErrMissingResolver),
		errors.Is(err, anomaly.ErrInvalidStatus):
		api.Fail(w, http.StatusBadRequest, "invalid_resolution", err.Error(), reqID)
	default:
		api.Fail(w, http.StatusInternalServerError, "alert_update_failed", "failed to update alert", reqID)
	}
}
