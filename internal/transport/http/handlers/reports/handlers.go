package reportshandler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"emooti/internal/domain/auth"
	"emooti/internal/domain/reports"
	"emooti/internal/transport/http/api"
	"emooti/internal/transport/http/middleware"
)

type Handler struct {
	Service *reports.Service
}

func NewHandler(service *reports.Service) *Handler {
	return &Handler{Service: service}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermReportsRead)).Get("/compliance/summary", h.handleSummary)
		r.With(middleware.RequirePermission(auth.PermReportsRead)).Get("/compliance/summary.pdf", h.handleSummaryPDF)
	})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.ComplianceSummary(r.Context(), parseDays(r))
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "summary_failed", "failed to build compliance summary", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSummaryPDF(w http.ResponseWriter, r *http.Request) {
	pdf, err := h.Service.ComplianceSummaryPDF(r.Context(), parseDays(r))
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "summary_pdf_failed", "failed to render compliance summary", middleware.GetRequestID(r.Context()))
		return
	}

	name := fmt.Sprintf("compliance-summary-%s.pdf", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func parseDays(r *http.Request) int {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days <= 0 {
		return 0
	}
	return days
}
