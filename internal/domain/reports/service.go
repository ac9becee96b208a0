package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"

	"emooti/internal/domain/anomaly"
	"emooti/internal/domain/audit"
)

type AlertCounter interface {
	CountsBySeverity(ctx context.Context) (map[string]int64, error)
	CountsByStatus(ctx context.Context) (map[string]int64, error)
}

type AuditQuerier interface {
	CountsByAction(ctx context.Context) (map[string]int64, error)
	VerifyChain(ctx context.Context, userID string) (audit.VerifyReport, error)
}

type Service struct {
	Store  *Store
	Alerts AlertCounter
	Audits AuditQuerier
	now    func() time.Time
}

func NewService(store *Store, alerts AlertCounter, audits AuditQuerier) *Service {
	return &Service{Store: store, Alerts: alerts, Audits: audits, now: time.Now}
}

type ComplianceSummary struct {
	PeriodStart      time.Time        `json:"periodStart"`
	PeriodEnd        time.Time        `json:"periodEnd"`
	AuditEntries     int64            `json:"auditEntries"`
	AuditByAction    map[string]int64 `json:"auditByAction"`
	AlertsBySeverity map[string]int64 `json:"alertsBySeverity"`
	AlertsByStatus   map[string]int64 `json:"alertsByStatus"`
	AlertsByType     map[string]int64 `json:"alertsByType"`
	OpenSevereAlerts int64            `json:"openSevereAlerts"`
	JobOutcomes      map[string]int64 `json:"jobOutcomes"`
	RecentRetention  []RetentionRun   `json:"recentRetention"`
	ChainsChecked    int              `json:"chainsChecked"`
	ChainsValid      int              `json:"chainsValid"`
	InvalidChains    []string         `json:"invalidChains,omitempty"`
}

// ComplianceSummary aggregates the period's audit, alert and retention
// activity and spot-checks the hash chains of the most recently active
// subjects.
func (s *Service) ComplianceSummary(ctx context.Context, days int) (ComplianceSummary, error) {
	if days <= 0 {
		days = 30
	}
	end := s.now()
	start := end.AddDate(0, 0, -days)
	summary := ComplianceSummary{PeriodStart: start, PeriodEnd: end}

	var err error
	if summary.AuditEntries, err = s.Store.AuditCountSince(ctx, start); err != nil {
		return summary, fmt.Errorf("audit count: %w", err)
	}
	if summary.AuditByAction, err = s.Audits.CountsByAction(ctx); err != nil {
		return summary, fmt.Errorf("audit action counts: %w", err)
	}
	if summary.AlertsBySeverity, err = s.Alerts.CountsBySeverity(ctx); err != nil {
		return summary, fmt.Errorf("alert severity counts: %w", err)
	}
	if summary.AlertsByStatus, err = s.Alerts.CountsByStatus(ctx); err != nil {
		return summary, fmt.Errorf("alert status counts: %w", err)
	}
	if summary.AlertsByType, err = s.Store.AlertTypeCounts(ctx, start); err != nil {
		return summary, fmt.Errorf("alert type counts: %w", err)
	}
	if summary.OpenSevereAlerts, err = s.Store.OpenAlertCount(ctx, []string{anomaly.SeverityHigh, anomaly.SeverityCritical}); err != nil {
		return summary, fmt.Errorf("open alert count: %w", err)
	}
	if summary.JobOutcomes, err = s.Store.JobOutcomeCounts(ctx); err != nil {
		return summary, fmt.Errorf("job outcome counts: %w", err)
	}
	if summary.RecentRetention, err = s.Store.RecentRetentionRuns(ctx, 10); err != nil {
		return summary, fmt.Errorf("recent retention runs: %w", err)
	}

	subjects, err := s.Store.ChainSubjects(ctx, start, 25)
	if err != nil {
		return summary, fmt.Errorf("chain subjects: %w", err)
	}
	for _, subject := range subjects {
		userID := subject
		if subject == audit.SystemSubject {
			userID = ""
		}
		report, err := s.Audits.VerifyChain(ctx, userID)
		if err != nil {
			return summary, fmt.Errorf("verify chain %s: %w", subject, err)
		}
		summary.ChainsChecked++
		if report.Valid {
			summary.ChainsValid++
		} else {
			summary.InvalidChains = append(summary.InvalidChains, subject)
		}
	}

	return summary, nil
}

func (s *Service) ComplianceSummaryPDF(ctx context.Context, days int) ([]byte, error) {
	summary, err := s.ComplianceSummary(ctx, days)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Compliance Summary")
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Period: %s to %s",
		summary.PeriodStart.Format("2006-01-02"), summary.PeriodEnd.Format("2006-01-02")))
	pdf.Ln(10)
	pdf.Cell(0, 8, fmt.Sprintf("Audit entries recorded: %d", summary.AuditEntries))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Open HIGH/CRITICAL alerts: %d", summary.OpenSevereAlerts))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Hash chains checked: %d, valid: %d",
		summary.ChainsChecked, summary.ChainsValid))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, "Alerts by severity")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	for _, severity := range []string{anomaly.SeverityCritical, anomaly.SeverityHigh, anomaly.SeverityMedium, anomaly.SeverityLow} {
		pdf.Cell(0, 6, fmt.Sprintf("%s: %d", severity, summary.AlertsBySeverity[severity]))
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, "Recent retention runs")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	if len(summary.RecentRetention) == 0 {
		pdf.Cell(0, 6, "none")
		pdf.Ln(6)
	}
	for _, run := range summary.RecentRetention {
		executed := "pending"
		if run.ExecutedAt != nil {
			executed = run.ExecutedAt.Format("2006-01-02 15:04")
		}
		pdf.Cell(0, 6, fmt.Sprintf("%s: %s, %d deleted, %s",
			run.EntityType, run.Status, run.RecordsDeleted, executed))
		pdf.Ln(6)
	}

	if len(summary.InvalidChains) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 13)
		pdf.Cell(0, 8, "Chains failing verification")
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 11)
		for _, subject := range summary.InvalidChains {
			pdf.Cell(0, 6, subject)
			pdf.Ln(6)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render compliance pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// AuditCSV renders audit entries as CSV, one row per entry in chain order.
func AuditCSV(entries []audit.Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "timestamp", "userId", "action", "resourceType",
		"resourceId", "ipAddress", "integrityHash", "previousHash"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, e := range entries {
		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.UserID,
			e.Action,
			e.ResourceType,
			e.ResourceID,
			e.IPAddress,
			e.IntegrityHash,
			e.PreviousHash,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CSVFilename stamps exports so repeated downloads do not overwrite.
func CSVFilename(prefix string, at time.Time) string {
	return prefix + "-" + at.UTC().Format("20060102-150405") + "-" + strconv.FormatInt(at.UnixMilli()%1000, 10) + ".csv"
}
