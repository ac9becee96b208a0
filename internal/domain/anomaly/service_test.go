package anomaly

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeAlertStore struct {
	mu     sync.Mutex
	alerts []Alert
}

func (f *fakeAlertStore) Insert(ctx context.Context, alert Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeAlertStore) FindActiveSince(ctx context.Context, alertType, severity, userID string, since time.Time) (*Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.alerts) - 1; i >= 0; i-- {
		a := f.alerts[i]
		if a.Type == alertType && a.Severity == severity && a.UserID == userID &&
			a.Status == StatusActive && !a.DetectedAt.Before(since) {
			copied := a
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeAlertStore) UpdateMerged(ctx context.Context, id, description string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.alerts {
		if f.alerts[i].ID == id {
			f.alerts[i].Description = description
			f.alerts[i].Metadata = metadata
		}
	}
	return nil
}

func (f *fakeAlertStore) UpdateStatus(ctx context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.alerts {
		if f.alerts[i].ID == id {
			f.alerts[i].Status = status
		}
	}
	return nil
}

func (f *fakeAlertStore) Resolve(ctx context.Context, id, status, notes, resolvedBy string, resolvedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.alerts {
		if f.alerts[i].ID == id {
			f.alerts[i].Status = status
			f.alerts[i].ResolutionNotes = notes
			f.alerts[i].ResolvedBy = resolvedBy
			f.alerts[i].ResolvedAt = &resolvedAt
		}
	}
	return nil
}

func (f *fakeAlertStore) Get(ctx context.Context, id string) (*Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.ID == id {
			copied := a
			return &copied, nil
		}
	}
	return nil, ErrAlertNotFound
}

func (f *fakeAlertStore) List(ctx context.Context, filter Filter, limit, offset int) ([]Alert, error) {
	return f.alerts, nil
}

func (f *fakeAlertStore) Count(ctx context.Context, filter Filter) (int, error) {
	return len(f.alerts), nil
}

func (f *fakeAlertStore) CountsBySeverity(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	for _, a := range f.alerts {
		out[a.Severity]++
	}
	return out, nil
}

func (f *fakeAlertStore) CountsByStatus(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	for _, a := range f.alerts {
		out[a.Status]++
	}
	return out, nil
}

func (f *fakeAlertStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (f *fakeNotifier) NotifyAdmins(ctx context.Context, title, body string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return nil
}

func TestCreateAlertMergesWithinWindow(t *testing.T) {
	store := &fakeAlertStore{}
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	first, err := svc.CreateAlert(ctx, "u1", TypeBulkDataAccess, SeverityHigh, "51 records", map[string]any{"count": 51})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.Metadata["occurrences"] != 1 {
		t.Fatalf("expected occurrences 1, got %v", first.Metadata["occurrences"])
	}

	second, err := svc.CreateAlert(ctx, "u1", TypeBulkDataAccess, SeverityHigh, "52 records", map[string]any{"count": 52})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if store.len() != 1 {
		t.Fatalf("expected 1 stored alert, got %d", store.len())
	}
	if second.ID != first.ID {
		t.Fatal("merge must reuse the existing alert")
	}
	if second.Metadata["occurrences"] != 2 {
		t.Fatalf("expected occurrences 2, got %v", second.Metadata["occurrences"])
	}
	if second.Metadata["count"] != 52 {
		t.Fatalf("expected new metadata to override, got %v", second.Metadata["count"])
	}
}

func TestCreateAlertDistinctTuplesDoNotMerge(t *testing.T) {
	store := &fakeAlertStore{}
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	if _, err := svc.CreateAlert(ctx, "u1", TypeBulkDataAccess, SeverityHigh, "a", nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.CreateAlert(ctx, "u2", TypeBulkDataAccess, SeverityHigh, "b", nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.CreateAlert(ctx, "u1", TypeUnusualExportPat, SeverityMedium, "c", nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if store.len() != 3 {
		t.Fatalf("expected 3 alerts, got %d", store.len())
	}
}

func TestCreateAlertOutsideWindowCreatesNew(t *testing.T) {
	store := &fakeAlertStore{}
	svc := NewService(store, nil, nil, nil)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }
	ctx := context.Background()

	if _, err := svc.CreateAlert(ctx, "u1", TypeBulkDataAccess, SeverityHigh, "a", nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	current = current.Add(2 * time.Hour)
	if _, err := svc.CreateAlert(ctx, "u1", TypeBulkDataAccess, SeverityHigh, "b", nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if store.len() != 2 {
		t.Fatalf("stale alert must not absorb new detections, got %d rows", store.len())
	}
}

func TestLowSeverityAutoResolved(t *testing.T) {
	store := &fakeAlertStore{}
	svc := NewService(store, nil, nil, nil)

	alert, err := svc.CreateAlert(context.Background(), "u1", TypeAfterHoursAccess, SeverityLow, "03:00 access", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if alert.Status != StatusResolved {
		t.Fatalf("expected RESOLVED, got %s", alert.Status)
	}
	if alert.ResolutionNotes == "" || alert.ResolvedBy != "system" || alert.ResolvedAt == nil {
		t.Fatalf("expected auto-resolution fields, got %+v", alert)
	}
}

func TestHighSeverityNotifiesAdmins(t *testing.T) {
	store := &fakeAlertStore{}
	notifier := &fakeNotifier{done: make(chan struct{})}
	svc := NewService(store, notifier, nil, nil)

	alert, err := svc.CreateAlert(context.Background(), "u1", TypeBulkDataAccess, SeverityHigh, "bulk", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if alert.Status != StatusActive {
		t.Fatalf("expected ACTIVE, got %s", alert.Status)
	}

	select {
	case <-notifier.done:
	case <-time.After(time.Second):
		t.Fatal("expected admin notification")
	}
}

func TestResolveAlertValidation(t *testing.T) {
	store := &fakeAlertStore{}
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	created, err := svc.CreateAlert(ctx, "u1", TypeBulkDataAccess, SeverityHigh, "bulk", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := svc.ResolveAlert(ctx, created.ID, "", "admin", false); err != ErrNotesRequired {
		t.Fatalf("expected ErrNotesRequired, got %v", err)
	}
	if _, err := svc.ResolveAlert(ctx, created.ID, "handled", "", false); err != ErrMissingResolver {
		t.Fatalf("expected ErrMissingResolver, got %v", err)
	}

	resolved, err := svc.ResolveAlert(ctx, created.ID, "was expected load test", "admin", true)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.Status != StatusFalsePositive {
		t.Fatalf("expected FALSE_POSITIVE, got %s", resolved.Status)
	}

	// Terminal alerts cannot be resolved again.
	if _, err := svc.ResolveAlert(ctx, created.ID, "again", "admin", false); err != ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestSeverityForRiskScore(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{95, SeverityCritical},
		{80, SeverityCritical},
		{79, SeverityHigh},
		{60, SeverityHigh},
		{59, SeverityMedium},
		{40, SeverityMedium},
		{39, SeverityLow},
		{0, SeverityLow},
	}
	for _, tc := range cases {
		if got := SeverityForRiskScore(tc.score); got != tc.want {
			t.Fatalf("score %d: expected %s, got %s", tc.score, tc.want, got)
		}
	}
}
