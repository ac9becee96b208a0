package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// AuditReader is the slice of the audit log the IP-level rules need.
type AuditReader interface {
	IPWindowStats(ctx context.Context, ip string, since time.Time) (requests int, distinctUsers int, err error)
}

type Thresholds struct {
	BulkAccess      int
	Export          int
	DistinctIPs     int
	FailedLogins    int
	IPWindow        time.Duration
	IPDistinctUsers int
	IPRequests      int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		BulkAccess:      50,
		Export:          5,
		DistinctIPs:     3,
		FailedLogins:    5,
		IPWindow:        15 * time.Minute,
		IPDistinctUsers: 5,
		IPRequests:      100,
	}
}

// skipPrefixes are unauthenticated or operational paths the detector ignores.
var skipPrefixes = []string{
	"/healthz",
	"/readyz",
	"/api/v1/metrics",
	"/assets/",
	"/favicon",
}

// sensitivePrefixes mark data-access endpoints counted toward the bulk-access
// rule.
var sensitivePrefixes = []string{
	"/api/v1/students",
	"/api/v1/results",
	"/api/v1/reports",
	"/api/v1/audit",
	"/api/v1/users",
}

// Detector classifies request activity into anomaly alerts. It is strictly
// best-effort: every code path recovers, logs, and lets the request proceed.
type Detector struct {
	tracker    *Tracker
	alerts     *Service
	audits     AuditReader
	thresholds Thresholds
	now        func() time.Time
}

func NewDetector(tracker *Tracker, alerts *Service, audits AuditReader, thresholds Thresholds) *Detector {
	return &Detector{
		tracker:    tracker,
		alerts:     alerts,
		audits:     audits,
		thresholds: thresholds,
		now:        time.Now,
	}
}

func (d *Detector) Tracker() *Tracker {
	return d.tracker
}

// OnRequest is the per-request hook. Rules are independent: one request can
// raise several alerts.
func (d *Detector) OnRequest(ctx context.Context, rc RequestContext) {
	defer func() {
		if recovered := recover(); recovered != nil {
			slog.Warn("anomaly detection panicked", "path", rc.Path, "panic", recovered)
		}
	}()

	if skipPath(rc.Path) {
		return
	}

	if rc.UserID != "" {
		d.evaluateUserRules(ctx, rc)
	}
	if rc.IPAddress != "" {
		d.evaluateIPRules(ctx, rc.IPAddress)
	}
}

func (d *Detector) evaluateUserRules(ctx context.Context, rc RequestContext) {
	dataAccess := rc.Method == "GET" && sensitivePath(rc.Path)
	export := strings.Contains(rc.Path, "/export")

	obs := d.tracker.Observe(rc.UserID, rc.IPAddress, dataAccess, export)

	if dataAccess && obs.DataAccessCount > d.thresholds.BulkAccess {
		d.raise(ctx, rc.UserID, TypeBulkDataAccess, SeverityHigh,
			fmt.Sprintf("user accessed %d sensitive records within the tracking window", obs.DataAccessCount),
			map[string]any{"dataAccessCount": obs.DataAccessCount, "path": rc.Path})
	}

	if export && obs.ExportCount > d.thresholds.Export {
		d.raise(ctx, rc.UserID, TypeUnusualExportPat, SeverityMedium,
			fmt.Sprintf("user triggered %d exports within the tracking window", obs.ExportCount),
			map[string]any{"exportCount": obs.ExportCount, "path": rc.Path})
	}

	if obs.DistinctIPs > d.thresholds.DistinctIPs {
		d.raise(ctx, rc.UserID, TypeMultipleIPAddresses, SeverityMedium,
			fmt.Sprintf("user seen from %d distinct IP addresses", obs.DistinctIPs),
			map[string]any{"distinctIps": obs.DistinctIPs})
	}

	hour := d.now().Hour()
	if hour < 6 || hour > 23 {
		d.raise(ctx, rc.UserID, TypeAfterHoursAccess, SeverityLow,
			fmt.Sprintf("access at hour %02d outside business hours", hour),
			map[string]any{"hour": hour, "path": rc.Path})
	}
}

// evaluateIPRules checks organization-level thresholds against the audit log
// for this IP within a short window. The store read is bounded; an error or
// timeout skips the rules entirely.
func (d *Detector) evaluateIPRules(ctx context.Context, ip string) {
	if d.audits == nil {
		return
	}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	requests, distinctUsers, err := d.audits.IPWindowStats(queryCtx, ip, d.now().Add(-d.thresholds.IPWindow))
	if err != nil {
		slog.Warn("ip window lookup failed", "ip", ip, "err", err)
		return
	}

	if distinctUsers > d.thresholds.IPDistinctUsers {
		d.raise(ctx, "", TypeMultipleIPAddresses, SeverityHigh,
			fmt.Sprintf("%d distinct users active from IP %s", distinctUsers, ip),
			map[string]any{"ipAddress": ip, "distinctUsers": distinctUsers})
	}
	if requests > d.thresholds.IPRequests {
		d.raise(ctx, "", TypeBulkDataAccess, SeverityHigh,
			fmt.Sprintf("%d requests from IP %s within the window", requests, ip),
			map[string]any{"ipAddress": ip, "requestCount": requests})
	}
}

// RecordFailedLogin is called by the auth layer when credentials are
// rejected for a known account. It is the only path that increments the
// failed-login counter; the request hook does not count 401 responses.
func (d *Detector) RecordFailedLogin(ctx context.Context, userID string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			slog.Warn("failed login detection panicked", "panic", recovered)
		}
	}()
	d.recordFailedLogin(ctx, userID)
}

func (d *Detector) recordFailedLogin(ctx context.Context, userID string) {
	count := d.tracker.RecordFailedLogin(userID)
	if count > d.thresholds.FailedLogins {
		d.raise(ctx, userID, TypeFailedLoginAttempts, SeverityHigh,
			fmt.Sprintf("%d failed login attempts within the tracking window", count),
			map[string]any{"failedLogins": count})
	}
}

// ResetFailedLogins is called by the auth layer after a successful login.
func (d *Detector) ResetFailedLogins(userID string) {
	d.tracker.ResetFailedLogins(userID)
}

// DetectAnomaly is the generic entry point for callers that score their own
// findings; the risk score picks the severity.
func (d *Detector) DetectAnomaly(ctx context.Context, userID, alertType, description string, details map[string]any, riskScore int) (Alert, error) {
	metadata := map[string]any{"riskScore": riskScore}
	for key, value := range details {
		metadata[key] = value
	}
	return d.alerts.CreateAlert(ctx, userID, alertType, SeverityForRiskScore(riskScore), description, metadata)
}

func (d *Detector) raise(ctx context.Context, userID, alertType, severity, description string, metadata map[string]any) {
	if _, err := d.alerts.CreateAlert(ctx, userID, alertType, severity, description, metadata); err != nil {
		slog.Warn("alert creation failed", "type", alertType, "err", err)
	}
}

func skipPath(path string) bool {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func sensitivePath(path string) bool {
	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
