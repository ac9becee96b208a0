package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"emooti/internal/domain/audit"
)

type fakeStore struct {
	mu       sync.Mutex
	policies map[string]*Policy
	jobs     map[string]*Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		policies: map[string]*Policy{},
		jobs:     map[string]*Job{},
	}
}

func (f *fakeStore) CreatePolicy(_ context.Context, p Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.policies {
		if existing.EntityType == p.EntityType && existing.Status == PolicyStatusActive {
			existing.Status = PolicyStatusInactive
		}
	}
	cp := p
	f.policies[p.ID] = &cp
	return nil
}

func (f *fakeStore) ActivePolicy(_ context.Context, entityType string) (*Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.policies {
		if p.EntityType == entityType && p.Status == PolicyStatusActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetPolicy(_ context.Context, id string) (*Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.policies[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) ListPolicies(_ context.Context) ([]Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Policy
	for _, p := range f.policies {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) ListAutoApplyPolicies(_ context.Context) ([]Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Policy
	for _, p := range f.policies {
		if p.Status == PolicyStatusActive && p.AutoApply {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdatePolicyStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[id]
	if !ok {
		return ErrPolicyNotFound
	}
	p.Status = status
	return nil
}

func (f *fakeStore) DeletePolicy(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.policies[id]; !ok {
		return ErrPolicyNotFound
	}
	delete(f.policies, id)
	return nil
}

func (f *fakeStore) SetLastApplied(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.policies[id]
	if !ok {
		return ErrPolicyNotFound
	}
	t := at
	p.LastApplied = &t
	return nil
}

func (f *fakeStore) InsertJob(_ context.Context, j Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := j
	f.jobs[j.ID] = &cp
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) ListJobs(_ context.Context, _ JobFilter, _, _ int) ([]Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Job
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeStore) CountJobs(_ context.Context, _ JobFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs), nil
}

func (f *fakeStore) FinishJob(_ context.Context, id, status string, executedAt time.Time, deleted int64, errorDetails string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	t := executedAt
	j.Status = status
	j.ExecutedAt = &t
	j.RecordsDeleted = deleted
	if status == JobStatusCompleted {
		j.RecordsEligible = deleted
	}
	j.ErrorDetails = errorDetails
	return nil
}

func (f *fakeStore) singleJob(t *testing.T) *Job {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) != 1 {
		t.Fatalf("expected exactly one job, got %d", len(f.jobs))
	}
	for _, j := range f.jobs {
		cp := *j
		return &cp
	}
	return nil
}

type fakePurger struct {
	remaining int64
	eligible  int64
	failAfter int
	calls     int
	cutoffs   []time.Time
}

func (f *fakePurger) PurgeBatch(_ context.Context, entityType string, cutoff time.Time, limit int) (int64, error) {
	f.calls++
	f.cutoffs = append(f.cutoffs, cutoff)
	if entityType != EntityUser && entityType != EntityStudent && entityType != EntityAuditLog {
		return 0, ErrUnsupportedEntityType
	}
	if f.failAfter > 0 && f.calls > f.failAfter {
		return 0, errors.New("relation is locked")
	}
	n := int64(limit)
	if f.remaining < n {
		n = f.remaining
	}
	f.remaining -= n
	return n, nil
}

func (f *fakePurger) CountEligible(_ context.Context, entityType string, _ time.Time) (int64, error) {
	if entityType != EntityUser && entityType != EntityStudent && entityType != EntityAuditLog {
		return 0, ErrUnsupportedEntityType
	}
	return f.eligible, nil
}

type fakeAppender struct {
	mu      sync.Mutex
	entries []audit.AppendInput
}

func (f *fakeAppender) Append(_ context.Context, in audit.AppendInput) (audit.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, in)
	return audit.Entry{ID: "entry"}, nil
}

func newTestService(store *fakeStore, purger *fakePurger, appender *fakeAppender, at time.Time) *Service {
	var audits AuditAppender
	if appender != nil {
		audits = appender
	}
	svc := NewService(store, purger, audits, 100)
	svc.now = func() time.Time { return at }
	return svc
}

func activePolicy(t *testing.T, store *fakeStore, svc *Service, entityType string, years int) Policy {
	t.Helper()
	p, err := svc.CreatePolicy(context.Background(), CreatePolicyInput{
		EntityType:     entityType,
		RetentionYears: years,
		LegalBasis:     "statutory record keeping",
	})
	if err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	return p
}

func TestCutoffDateIsCalendarSubtraction(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got := CutoffDate(now, 7)
	want := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", got, want)
	}
}

func TestExecuteCompletesAndCountsDeletes(t *testing.T) {
	store := newFakeStore()
	purger := &fakePurger{remaining: 250, eligible: 250}
	appender := &fakeAppender{}
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestService(store, purger, appender, now)
	policy := activePolicy(t, store, svc, EntityAuditLog, 7)

	res, err := svc.Execute(context.Background(), EntityAuditLog, "admin-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.DeletedCount != 250 {
		t.Fatalf("deleted = %d, want 250", res.DeletedCount)
	}

	job := store.singleJob(t)
	if job.Status != JobStatusCompleted {
		t.Fatalf("job status = %s, want %s", job.Status, JobStatusCompleted)
	}
	if job.RecordsDeleted != 250 || job.RecordsEligible != 250 {
		t.Fatalf("job counts = %d/%d, want 250/250", job.RecordsDeleted, job.RecordsEligible)
	}
	if !job.CutoffDate.Equal(now.AddDate(-7, 0, 0)) {
		t.Fatalf("job cutoff = %v", job.CutoffDate)
	}

	updated, err := store.GetPolicy(context.Background(), policy.ID)
	if err != nil || updated == nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if updated.LastApplied == nil {
		t.Fatal("expected lastApplied to be set")
	}

	if len(appender.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(appender.entries))
	}
	if appender.entries[0].Action != audit.ActionRetentionExecution {
		t.Fatalf("audit action = %s", appender.entries[0].Action)
	}
}

func TestExecuteReconcilesEligibleWithDeleted(t *testing.T) {
	store := newFakeStore()
	// The pre-delete estimate drifts while batches run; the settled job
	// must carry the actual delete count in both columns.
	purger := &fakePurger{remaining: 250, eligible: 400}
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestService(store, purger, nil, now)
	activePolicy(t, store, svc, EntityStudent, 5)

	res, err := svc.Execute(context.Background(), EntityStudent, "admin-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.DeletedCount != 250 {
		t.Fatalf("deleted = %d, want 250", res.DeletedCount)
	}

	job := store.singleJob(t)
	if job.Status != JobStatusCompleted {
		t.Fatalf("job status = %s", job.Status)
	}
	if job.RecordsDeleted != 250 || job.RecordsEligible != 250 {
		t.Fatalf("job counts = %d/%d, want 250/250", job.RecordsDeleted, job.RecordsEligible)
	}
}

func TestExecuteWithoutActivePolicyCreatesNoJob(t *testing.T) {
	store := newFakeStore()
	purger := &fakePurger{}
	svc := newTestService(store, purger, nil, time.Now())

	_, err := svc.Execute(context.Background(), EntityUser, "admin-1")
	if !errors.Is(err, ErrNoActivePolicy) {
		t.Fatalf("err = %v, want ErrNoActivePolicy", err)
	}
	if len(store.jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(store.jobs))
	}
	if purger.calls != 0 {
		t.Fatalf("expected no purge calls, got %d", purger.calls)
	}
}

func TestExecutePurgeFailureMarksJobFailed(t *testing.T) {
	store := newFakeStore()
	purger := &fakePurger{remaining: 500, eligible: 500, failAfter: 2}
	svc := newTestService(store, purger, nil, time.Now())
	activePolicy(t, store, svc, EntityUser, 3)

	res, err := svc.Execute(context.Background(), EntityUser, "admin-1")
	if err == nil {
		t.Fatal("expected error from failing purge")
	}

	job := store.singleJob(t)
	if job.Status != JobStatusFailed {
		t.Fatalf("job status = %s, want %s", job.Status, JobStatusFailed)
	}
	if job.ErrorDetails == "" {
		t.Fatal("expected error details on failed job")
	}
	if job.RecordsDeleted != 200 || res.DeletedCount != 200 {
		t.Fatalf("partial delete count = %d/%d, want 200", job.RecordsDeleted, res.DeletedCount)
	}
}

func TestExecuteUnsupportedEntityType(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakePurger{}, nil, time.Now())
	activePolicy(t, store, svc, "Invoice", 5)

	_, err := svc.Execute(context.Background(), "Invoice", "admin-1")
	if !errors.Is(err, ErrUnsupportedEntityType) {
		t.Fatalf("err = %v, want ErrUnsupportedEntityType", err)
	}

	job := store.singleJob(t)
	if job.Status != JobStatusFailed {
		t.Fatalf("job status = %s, want %s", job.Status, JobStatusFailed)
	}
}

func TestExecuteContextCancellationMarksJobCancelled(t *testing.T) {
	store := newFakeStore()
	purger := &fakePurger{remaining: 1000, eligible: 1000}
	svc := newTestService(store, purger, nil, time.Now())
	activePolicy(t, store, svc, EntityStudent, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Execute(ctx, EntityStudent, "admin-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	job := store.singleJob(t)
	if job.Status != JobStatusCancelled {
		t.Fatalf("job status = %s, want %s", job.Status, JobStatusCancelled)
	}
}

func TestCreatePolicyReplacesActiveOne(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakePurger{}, nil, time.Now())

	first := activePolicy(t, store, svc, EntityUser, 5)
	second := activePolicy(t, store, svc, EntityUser, 3)

	got, err := store.ActivePolicy(context.Background(), EntityUser)
	if err != nil {
		t.Fatalf("ActivePolicy: %v", err)
	}
	if got == nil || got.ID != second.ID {
		t.Fatalf("active policy = %+v, want %s", got, second.ID)
	}

	old, _ := store.GetPolicy(context.Background(), first.ID)
	if old.Status != PolicyStatusInactive {
		t.Fatalf("previous policy status = %s, want %s", old.Status, PolicyStatusInactive)
	}
}

func TestCreatePolicyValidation(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakePurger{}, nil, time.Now())

	_, err := svc.CreatePolicy(context.Background(), CreatePolicyInput{RetentionYears: 5})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("missing entity type: err = %v", err)
	}

	_, err = svc.CreatePolicy(context.Background(), CreatePolicyInput{EntityType: EntityUser})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("zero retention years: err = %v", err)
	}
}

func TestDeleteActivePolicyRejected(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakePurger{}, nil, time.Now())
	p := activePolicy(t, store, svc, EntityUser, 5)

	if err := svc.DeletePolicy(context.Background(), p.ID); !errors.Is(err, ErrPolicyActive) {
		t.Fatalf("err = %v, want ErrPolicyActive", err)
	}

	if err := svc.SuspendPolicy(context.Background(), p.ID); err != nil {
		t.Fatalf("SuspendPolicy: %v", err)
	}
	if err := svc.DeletePolicy(context.Background(), p.ID); err != nil {
		t.Fatalf("DeletePolicy after suspend: %v", err)
	}
}

func TestCancelJob(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakePurger{}, nil, time.Now())

	job := Job{ID: "job-1", EntityType: EntityUser, Status: JobStatusScheduled}
	if err := store.InsertJob(context.Background(), job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	cancelled, err := svc.CancelJob(context.Background(), "job-1", "admin-1")
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if cancelled.Status != JobStatusCancelled {
		t.Fatalf("status = %s, want %s", cancelled.Status, JobStatusCancelled)
	}

	if _, err := svc.CancelJob(context.Background(), "job-1", "admin-1"); !errors.Is(err, ErrJobNotCancellable) {
		t.Fatalf("second cancel: err = %v, want ErrJobNotCancellable", err)
	}

	if _, err := svc.CancelJob(context.Background(), "missing", "admin-1"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("missing job: err = %v, want ErrJobNotFound", err)
	}
}
