package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeAuditReader struct {
	requests      int
	distinctUsers int
	err           error
}

func (f *fakeAuditReader) IPWindowStats(ctx context.Context, ip string, since time.Time) (int, int, error) {
	return f.requests, f.distinctUsers, f.err
}

func newTestDetector(store *fakeAlertStore, audits AuditReader) *Detector {
	svc := NewService(store, nil, nil, nil)
	det := NewDetector(NewTracker(), svc, audits, DefaultThresholds())
	// Pin to business hours so the after-hours rule stays quiet unless a
	// test moves the clock.
	det.now = func() time.Time { return time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC) }
	return det
}

func sensitiveGet(userID string) RequestContext {
	return RequestContext{
		UserID:         userID,
		IPAddress:      "10.0.0.1",
		Method:         "GET",
		Path:           "/api/v1/students",
		ResponseStatus: 200,
	}
}

func TestBulkDataAccessAlertFiresOnceAndMerges(t *testing.T) {
	store := &fakeAlertStore{}
	det := newTestDetector(store, nil)
	ctx := context.Background()

	for i := 0; i < 51; i++ {
		det.OnRequest(ctx, sensitiveGet("u1"))
	}
	if store.len() != 1 {
		t.Fatalf("expected exactly 1 alert after 51 accesses, got %d", store.len())
	}
	alert := store.alerts[0]
	if alert.Type != TypeBulkDataAccess || alert.Severity != SeverityHigh {
		t.Fatalf("unexpected alert %+v", alert)
	}

	// The 52nd access merges instead of creating a second row.
	det.OnRequest(ctx, sensitiveGet("u1"))
	if store.len() != 1 {
		t.Fatalf("expected merge, got %d rows", store.len())
	}
	if store.alerts[0].Metadata["occurrences"] != 2 {
		t.Fatalf("expected occurrences 2, got %v", store.alerts[0].Metadata["occurrences"])
	}
}

func TestExportPatternAlert(t *testing.T) {
	store := &fakeAlertStore{}
	det := newTestDetector(store, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		det.OnRequest(ctx, RequestContext{
			UserID: "u1", IPAddress: "10.0.0.1", Method: "GET",
			Path: "/api/v1/audit/entries/export", ResponseStatus: 200,
		})
	}
	found := false
	for _, a := range store.alerts {
		if a.Type == TypeUnusualExportPat && a.Severity == SeverityMedium {
			found = true
		}
	}
	if !found {
		t.Fatal("expected UNUSUAL_EXPORT_PATTERN alert after 6 exports")
	}
}

func TestMultipleIPAlert(t *testing.T) {
	store := &fakeAlertStore{}
	det := newTestDetector(store, nil)
	ctx := context.Background()

	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
		rc := sensitiveGet("u1")
		rc.IPAddress = ip
		rc.Path = "/api/v1/consents" // non-sensitive, isolates the IP rule
		rc.Method = "POST"
		det.OnRequest(ctx, rc)
		if i < 3 && store.len() != 0 {
			t.Fatalf("alert fired too early at %d IPs", i+1)
		}
	}
	if store.len() != 1 {
		t.Fatalf("expected 1 alert at 4 distinct IPs, got %d", store.len())
	}
	if store.alerts[0].Type != TypeMultipleIPAddresses {
		t.Fatalf("unexpected alert %+v", store.alerts[0])
	}
}

func TestAfterHoursAlertIsLowAndAutoResolved(t *testing.T) {
	store := &fakeAlertStore{}
	det := newTestDetector(store, nil)
	det.now = func() time.Time { return time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC) }

	rc := RequestContext{UserID: "u1", IPAddress: "10.0.0.1", Method: "POST", Path: "/api/v1/consents", ResponseStatus: 200}
	det.OnRequest(context.Background(), rc)

	if store.len() != 1 {
		t.Fatalf("expected 1 alert, got %d", store.len())
	}
	alert := store.alerts[0]
	if alert.Type != TypeAfterHoursAccess || alert.Severity != SeverityLow {
		t.Fatalf("unexpected alert %+v", alert)
	}
	if alert.Status != StatusResolved {
		t.Fatalf("LOW alert should be auto-resolved, got %s", alert.Status)
	}
}

func TestFailedLoginCycle(t *testing.T) {
	store := &fakeAlertStore{}
	det := newTestDetector(store, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		det.RecordFailedLogin(ctx, "u1")
	}
	if store.len() != 0 {
		t.Fatalf("no alert expected at 5 failures, got %d", store.len())
	}

	det.RecordFailedLogin(ctx, "u1")
	if store.len() != 1 {
		t.Fatalf("expected alert on 6th failure, got %d", store.len())
	}
	if store.alerts[0].Type != TypeFailedLoginAttempts || store.alerts[0].Severity != SeverityHigh {
		t.Fatalf("unexpected alert %+v", store.alerts[0])
	}

	// Successful login resets the counter; the next 5 failures stay quiet,
	// and the 6th raises again. The first alert is stale (outside the merge
	// window) in real operation; here it merges, so assert on occurrences.
	det.ResetFailedLogins("u1")
	for i := 0; i < 5; i++ {
		det.RecordFailedLogin(ctx, "u1")
	}
	if store.len() != 1 {
		t.Fatalf("reset should suppress alerts until threshold, got %d", store.len())
	}
	det.RecordFailedLogin(ctx, "u1")
	if store.alerts[0].Metadata["occurrences"] != 2 {
		t.Fatalf("expected second cycle to fire, got %v", store.alerts[0].Metadata["occurrences"])
	}
}

func TestTokenBearingFailedLoginCountsOnce(t *testing.T) {
	store := &fakeAlertStore{}
	det := newTestDetector(store, nil)
	ctx := context.Background()

	// A failed login carrying a valid bearer token reaches both the auth
	// handler and the request hook. Only the handler report may count, or
	// the threshold would fire at half the configured limit.
	for i := 0; i < 5; i++ {
		det.RecordFailedLogin(ctx, "u1")
		det.OnRequest(ctx, RequestContext{
			UserID: "u1", IPAddress: "10.0.0.1", Method: "POST",
			Path: "/api/v1/auth/login", ResponseStatus: 401,
		})
	}
	if store.len() != 0 {
		t.Fatalf("no alert expected at 5 failures, got %d", store.len())
	}

	det.RecordFailedLogin(ctx, "u1")
	if store.len() != 1 {
		t.Fatalf("expected alert on 6th failure, got %d", store.len())
	}
	if store.alerts[0].Type != TypeFailedLoginAttempts {
		t.Fatalf("unexpected alert %+v", store.alerts[0])
	}
}

func TestIPRulesOrgLevelAlerts(t *testing.T) {
	store := &fakeAlertStore{}
	det := newTestDetector(store, &fakeAuditReader{requests: 150, distinctUsers: 8})

	det.OnRequest(context.Background(), RequestContext{IPAddress: "10.0.0.9", Method: "GET", Path: "/api/v1/consents"})

	if store.len() != 2 {
		t.Fatalf("expected 2 org-level alerts, got %d", store.len())
	}
	for _, alert := range store.alerts {
		if alert.UserID != "" {
			t.Fatalf("org-level alert must have no user, got %+v", alert)
		}
		if alert.Severity != SeverityHigh {
			t.Fatalf("expected HIGH severity, got %s", alert.Severity)
		}
	}
}

func TestIPRuleErrorsAreSwallowed(t *testing.T) {
	store := &fakeAlertStore{}
	det := newTestDetector(store, &fakeAuditReader{err: errors.New("store down")})

	det.OnRequest(context.Background(), RequestContext{IPAddress: "10.0.0.9", Method: "GET", Path: "/api/v1/consents"})

	if store.len() != 0 {
		t.Fatalf("detection errors must not raise alerts, got %d", store.len())
	}
}

func TestSkipPathsIgnored(t *testing.T) {
	store := &fakeAlertStore{}
	det := newTestDetector(store, &fakeAuditReader{requests: 1000, distinctUsers: 50})

	det.OnRequest(context.Background(), RequestContext{UserID: "u1", IPAddress: "10.0.0.1", Method: "GET", Path: "/healthz"})
	det.OnRequest(context.Background(), RequestContext{UserID: "u1", IPAddress: "10.0.0.1", Method: "GET", Path: "/readyz"})

	if store.len() != 0 {
		t.Fatalf("allow-listed paths must not be evaluated, got %d alerts", store.len())
	}
}

func TestDetectAnomalyRiskScoreMapping(t *testing.T) {
	store := &fakeAlertStore{}
	det := newTestDetector(store, nil)

	alert, err := det.DetectAnomaly(context.Background(), "u1", TypeChainIntegrity, "chain broken", map[string]any{"subject": "u1"}, 90)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if alert.Severity != SeverityCritical {
		t.Fatalf("expected CRITICAL, got %s", alert.Severity)
	}
	if alert.Metadata["riskScore"] != 90 {
		t.Fatalf("expected riskScore in metadata, got %v", alert.Metadata)
	}
}
