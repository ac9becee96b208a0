package audit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []Entry
	failing bool
}

func (f *fakeStore) Insert(ctx context.Context, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return context.DeadlineExceeded
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeStore) LatestHash(ctx context.Context, subject string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.entries) - 1; i >= 0; i-- {
		if SubjectKey(f.entries[i].UserID) == subject {
			return f.entries[i].IntegrityHash, nil
		}
	}
	return "", nil
}

func (f *fakeStore) ListBySubject(ctx context.Context, subject string) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Entry
	for _, e := range f.entries {
		if SubjectKey(e.UserID) == subject {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (f *fakeStore) List(ctx context.Context, filter Filter, limit, offset int) ([]Entry, error) {
	return f.entries, nil
}

func (f *fakeStore) Count(ctx context.Context, filter Filter) (int, error) {
	return len(f.entries), nil
}

func (f *fakeStore) ListExport(ctx context.Context) ([]Entry, error) {
	return f.entries, nil
}

func (f *fakeStore) CountsByAction(ctx context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	for _, e := range f.entries {
		out[e.Action]++
	}
	return out, nil
}

func (f *fakeStore) IPWindowStats(ctx context.Context, ip string, since time.Time) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := map[string]struct{}{}
	requests := 0
	for _, e := range f.entries {
		if e.IPAddress != ip || e.Timestamp.Before(since) {
			continue
		}
		requests++
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
	}
	return requests, len(users), nil
}

func newTestService(store *fakeStore) *Service {
	svc := NewService(store)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	svc.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Millisecond)
	}
	return svc
}

func TestAppendChainsPerUser(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.Append(ctx, AppendInput{UserID: "u1", Action: ActionDataAccess, ResourceType: "Student"})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if first.PreviousHash != "" {
		t.Fatalf("first entry should have empty previous hash, got %q", first.PreviousHash)
	}

	second, err := svc.Append(ctx, AppendInput{UserID: "u1", Action: ActionDataExport, ResourceType: "Student"})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if second.PreviousHash != first.IntegrityHash {
		t.Fatal("second entry must link to first entry's integrity hash")
	}

	// Another user starts a fresh chain.
	other, err := svc.Append(ctx, AppendInput{UserID: "u2", Action: ActionDataAccess, ResourceType: "Student"})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if other.PreviousHash != "" {
		t.Fatal("chains are scoped per user")
	}
}

func TestSystemEntriesChainTogether(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.Append(ctx, AppendInput{Action: ActionRetentionExecution, ResourceType: "AuditLog"})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	second, err := svc.Append(ctx, AppendInput{Action: ActionSystemConfigChange, ResourceType: "RetentionPolicy"})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if second.PreviousHash != first.IntegrityHash {
		t.Fatal("system entries must chain under the system subject")
	}

	report, err := svc.VerifyChain(ctx, "")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !report.Valid || report.Entries != 2 {
		t.Fatalf("expected valid 2-entry system chain, got %+v", report)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		entry, err := svc.Append(ctx, AppendInput{UserID: "u1", Action: ActionDataAccess, ResourceType: "Student"})
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
		ids = append(ids, entry.ID)
	}

	report, err := svc.VerifyChain(ctx, "u1")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !report.Valid || report.Entries != 5 {
		t.Fatalf("expected valid chain of 5, got %+v", report)
	}

	// Tamper with the third entry's stored hash.
	store.mu.Lock()
	for i := range store.entries {
		if store.entries[i].ID == ids[2] {
			store.entries[i].IntegrityHash = "deadbeef"
		}
	}
	store.mu.Unlock()

	report, err = svc.VerifyChain(ctx, "u1")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if report.Valid {
		t.Fatal("tampered chain reported valid")
	}
	if report.FirstInvalidID != ids[2] {
		t.Fatalf("expected first invalid entry %s, got %s", ids[2], report.FirstInvalidID)
	}
}

func TestVerifyChainDetectsMutatedField(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store)
	ctx := context.Background()

	entry, err := svc.Append(ctx, AppendInput{UserID: "u1", Action: ActionDataAccess, ResourceType: "Student", ResourceID: "s1"})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	store.mu.Lock()
	store.entries[0].ResourceID = "s2"
	store.mu.Unlock()

	report, err := svc.VerifyChain(ctx, "u1")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if report.Valid {
		t.Fatal("mutated entry reported valid")
	}
	if report.FirstInvalidID != entry.ID || report.Reason != "integrity hash mismatch" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestAppendSurfacesStoreFailure(t *testing.T) {
	store := &fakeStore{failing: true}
	svc := newTestService(store)

	if _, err := svc.Append(context.Background(), AppendInput{UserID: "u1", Action: ActionDataAccess, ResourceType: "Student"}); err == nil {
		t.Fatal("expected append to surface persistence failure")
	}
}

func TestConcurrentAppendsKeepChainIntact(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Append(ctx, AppendInput{UserID: "u1", Action: ActionDataAccess, ResourceType: "Student"}); err != nil {
				t.Errorf("append failed: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, err := store.ListBySubject(ctx, "u1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(entries))
	}
	seen := map[string]int{}
	for _, e := range entries {
		seen[e.PreviousHash]++
	}
	for prev, count := range seen {
		if count > 1 {
			t.Fatalf("previous hash %q reused %d times", prev, count)
		}
	}
}
