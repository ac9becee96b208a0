package audithandler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"emooti/internal/domain/anomaly"
	"emooti/internal/domain/audit"
	"emooti/internal/domain/auth"
	"emooti/internal/domain/reports"
	"emooti/internal/transport/http/api"
	"emooti/internal/transport/http/middleware"
	"emooti/internal/transport/http/shared"
)

type Handler struct {
	Service  *audit.Service
	Detector *anomaly.Detector
}

func NewHandler(service *audit.Service, detector *anomaly.Detector) *Handler {
	return &Handler{Service: service, Detector: detector}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/audit", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermAuditRead)).Get("/entries", h.handleListEntries)
		r.With(middleware.RequirePermission(auth.PermAuditRead)).Get("/entries/export", h.handleExportEntries)
		r.With(middleware.RequirePermission(auth.PermAuditRead)).Get("/stats", h.handleStats)
		r.With(middleware.RequirePermission(auth.PermAuditVerify)).Get("/verify/{userId}", h.handleVerifyChain)
	})
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePagination(r, 100, 500)
	v := shared.NewValidator()

	q := r.URL.Query()
	from, _ := v.OptionalDate("from", q.Get("from"))
	to, _ := v.OptionalDate("to", q.Get("to"))
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	filter := audit.Filter{
		UserID:       q.Get("userId"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resourceType"),
		From:         from,
		To:           to,
	}

	total, err := h.Service.Count(r.Context(), filter)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_count_failed", "failed to count audit entries", middleware.GetRequestID(r.Context()))
		return
	}
	entries, err := h.Service.List(r.Context(), filter, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_list_failed", "failed to list audit entries", middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, api.Page{Items: entries, Total: total, Limit: page.Limit, Offset: page.Offset}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleExportEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.ListExport(r.Context())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_export_failed", "failed to export audit entries", middleware.GetRequestID(r.Context()))
		return
	}

	payload, err := reports.AuditCSV(entries)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_export_failed", "failed to render audit export", middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=audit-entries.csv")
	_, _ = w.Write(payload)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Service.CountsByAction(r.Context())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_stats_failed", "failed to aggregate audit stats", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]any{"byAction": counts}, middleware.GetRequestID(r.Context()))
}

// handleVerifyChain replays one subject's hash chain. The reserved subject
// "system" verifies entries recorded without a user.
func (h *Handler) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == audit.SystemSubject {
		userID = ""
	}

	report, err := h.Service.VerifyChain(r.Context(), userID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "chain_verify_failed", "failed to verify audit chain", middleware.GetRequestID(r.Context()))
		return
	}

	verifier := ""
	if user, ok := middleware.GetUser(r.Context()); ok {
		verifier = user.UserID
	}
	if _, err := h.Service.Append(r.Context(), audit.AppendInput{
		UserID:       verifier,
		Action:       audit.ActionChainVerification,
		ResourceType: "audit_chain",
		ResourceID:   report.Subject,
		Details:      report,
		IPAddress:    middleware.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		slog.Warn("failed to record chain verification", "subject", report.Subject, "error", err)
	}

	if !report.Valid {
		description := "audit chain verification failed for subject " + report.Subject
		if _, err := h.Detector.DetectAnomaly(r.Context(), verifier, anomaly.TypeChainIntegrity, description, map[string]any{
			"subject":        report.Subject,
			"firstInvalidId": report.FirstInvalidID,
			"reason":         report.Reason,
		}, 95); err != nil {
			slog.Error("failed to raise chain integrity alert", "subject", report.Subject, "error", err)
		}
	}

	api.Success(w, report, middleware.GetRequestID(r.Context()))
}
