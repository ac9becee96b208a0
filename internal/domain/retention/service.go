package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"emooti/internal/domain/audit"
)

// AuditAppender records retention executions on the audit trail.
type AuditAppender interface {
	Append(ctx context.Context, in audit.AppendInput) (audit.Entry, error)
}

type Service struct {
	store     StoreAPI
	purger    Purger
	audits    AuditAppender
	batchSize int
	now       func() time.Time
}

func NewService(store StoreAPI, purger Purger, audits AuditAppender, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Service{
		store:     store,
		purger:    purger,
		audits:    audits,
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (s *Service) CreatePolicy(ctx context.Context, in CreatePolicyInput) (Policy, error) {
	if in.EntityType == "" {
		return Policy{}, fmt.Errorf("%w: entity type is required", ErrInvalidPolicy)
	}
	if in.RetentionYears <= 0 {
		return Policy{}, fmt.Errorf("%w: retention years must be positive", ErrInvalidPolicy)
	}
	if in.TriggerField == "" {
		in.TriggerField = "createdAt"
	}

	p := Policy{
		ID:               uuid.New().String(),
		EntityType:       in.EntityType,
		RetentionYears:   in.RetentionYears,
		TriggerField:     in.TriggerField,
		Description:      in.Description,
		LegalBasis:       in.LegalBasis,
		Status:           PolicyStatusActive,
		AutoApply:        in.AutoApply,
		GracePeriodDays:  in.GracePeriodDays,
		NotifyBeforeDays: in.NotifyBeforeDays,
		CreatedBy:        in.CreatedBy,
		CreatedAt:        s.now(),
	}

	if err := s.store.CreatePolicy(ctx, p); err != nil {
		return Policy{}, fmt.Errorf("create retention policy: %w", err)
	}
	return p, nil
}

func (s *Service) ListPolicies(ctx context.Context) ([]Policy, error) {
	return s.store.ListPolicies(ctx)
}

func (s *Service) ListAutoApplyPolicies(ctx context.Context) ([]Policy, error) {
	return s.store.ListAutoApplyPolicies(ctx)
}

func (s *Service) SuspendPolicy(ctx context.Context, id string) error {
	return s.store.UpdatePolicyStatus(ctx, id, PolicyStatusSuspended)
}

func (s *Service) UpdatePolicyStatus(ctx context.Context, id, status string) (*Policy, error) {
	p, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPolicyNotFound
	}
	if status == PolicyStatusActive {
		// Reactivating demotes whichever policy currently holds the
		// ACTIVE slot for the entity type.
		current, err := s.store.ActivePolicy(ctx, p.EntityType)
		if err != nil {
			return nil, err
		}
		if current != nil && current.ID != id {
			if err := s.store.UpdatePolicyStatus(ctx, current.ID, PolicyStatusInactive); err != nil {
				return nil, err
			}
		}
	}
	if err := s.store.UpdatePolicyStatus(ctx, id, status); err != nil {
		return nil, err
	}
	p.Status = status
	return p, nil
}

func (s *Service) DeletePolicy(ctx context.Context, id string) error {
	p, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrPolicyNotFound
	}
	if p.Status == PolicyStatusActive {
		return ErrPolicyActive
	}
	return s.store.DeletePolicy(ctx, id)
}

// CutoffDate is a calendar-year subtraction, not a fixed number of days, so
// a 7 year policy applied on 2025-01-01 cuts at 2018-01-01.
func CutoffDate(now time.Time, retentionYears int) time.Time {
	return now.AddDate(-retentionYears, 0, 0)
}

// Execute applies the active policy for the entity type right now. The job
// row is written IN_PROGRESS before any deletion happens, so a crash leaves
// evidence that a purge may have started. Rows are deleted in batches;
// failures mark the job FAILED and re-raise, and context cancellation
// between batches marks it CANCELLED keeping the partial delete count.
func (s *Service) Execute(ctx context.Context, entityType, initiatedBy string) (ExecuteResult, error) {
	policy, err := s.store.ActivePolicy(ctx, entityType)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("look up active policy: %w", err)
	}
	if policy == nil {
		return ExecuteResult{}, fmt.Errorf("%w for entity type %s", ErrNoActivePolicy, entityType)
	}

	now := s.now()
	cutoff := CutoffDate(now, policy.RetentionYears)

	job := Job{
		ID:            uuid.New().String(),
		EntityType:    entityType,
		PolicyApplied: *policy,
		CutoffDate:    cutoff,
		ScheduledFor:  now,
		Status:        JobStatusInProgress,
		CreatedBy:     initiatedBy,
		ExecutedBy:    initiatedBy,
	}

	eligible, countErr := s.purger.CountEligible(ctx, entityType, cutoff)
	job.RecordsEligible = eligible
	if countErr != nil {
		// Leave a failed job row behind even when the entity type has no
		// deletion rule at all.
		job.Status = JobStatusFailed
		executedAt := s.now()
		job.ExecutedAt = &executedAt
		job.ErrorDetails = countErr.Error()
		if err := s.store.InsertJob(ctx, job); err != nil {
			slog.Error("failed to record failed retention job",
				slog.String("jobId", job.ID), slog.Any("error", err))
		}
		return ExecuteResult{JobID: job.ID}, countErr
	}

	if err := s.store.InsertJob(ctx, job); err != nil {
		return ExecuteResult{}, fmt.Errorf("insert retention job: %w", err)
	}

	var deleted int64
	for {
		if err := ctx.Err(); err != nil {
			s.finish(job.ID, JobStatusCancelled, deleted, err.Error())
			return ExecuteResult{JobID: job.ID, DeletedCount: deleted}, err
		}

		n, err := s.purger.PurgeBatch(ctx, entityType, cutoff, s.batchSize)
		if err != nil {
			s.finish(job.ID, JobStatusFailed, deleted, err.Error())
			return ExecuteResult{JobID: job.ID, DeletedCount: deleted},
				fmt.Errorf("purge %s: %w", entityType, err)
		}
		deleted += n
		if n == 0 {
			break
		}
	}

	s.finish(job.ID, JobStatusCompleted, deleted, "")
	if err := s.store.SetLastApplied(ctx, policy.ID, s.now()); err != nil {
		slog.Error("failed to record policy last applied",
			slog.String("policyId", policy.ID), slog.Any("error", err))
	}

	s.recordExecution(ctx, initiatedBy, entityType, job.ID, cutoff, deleted)

	return ExecuteResult{JobID: job.ID, DeletedCount: deleted}, nil
}

// finish runs on a fresh context so job rows still settle when the caller's
// context is the reason the job stopped.
func (s *Service) finish(jobID, status string, deleted int64, errorDetails string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.FinishJob(ctx, jobID, status, s.now(), deleted, errorDetails); err != nil {
		slog.Error("failed to finalize retention job",
			slog.String("jobId", jobID), slog.String("status", status),
			slog.Any("error", err))
	}
}

func (s *Service) recordExecution(ctx context.Context, initiatedBy, entityType, jobID string, cutoff time.Time, deleted int64) {
	if s.audits == nil {
		return
	}
	_, err := s.audits.Append(ctx, audit.AppendInput{
		UserID:       initiatedBy,
		Action:       audit.ActionRetentionExecution,
		ResourceType: "RetentionJob",
		ResourceID:   jobID,
		Details: map[string]any{
			"entityType":   entityType,
			"cutoffDate":   cutoff.UTC().Format(time.RFC3339),
			"deletedCount": deleted,
		},
	})
	if err != nil {
		slog.Error("failed to audit retention execution",
			slog.String("jobId", jobID), slog.Any("error", err))
	}
}

// CountEligibleAt reports how many rows the active policy would delete if
// executed at the given time. Used for advance warnings.
func (s *Service) CountEligibleAt(ctx context.Context, entityType string, at time.Time) (int64, error) {
	policy, err := s.store.ActivePolicy(ctx, entityType)
	if err != nil {
		return 0, err
	}
	if policy == nil {
		return 0, nil
	}
	return s.purger.CountEligible(ctx, entityType, CutoffDate(at, policy.RetentionYears))
}

// CancelJob flips a SCHEDULED or stuck IN_PROGRESS job row to CANCELLED.
// It does not interrupt an execution already deleting rows; that is what
// context cancellation is for.
func (s *Service) CancelJob(ctx context.Context, id, cancelledBy string) (*Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.Status != JobStatusScheduled && job.Status != JobStatusInProgress {
		return nil, fmt.Errorf("%w: status is %s", ErrJobNotCancellable, job.Status)
	}

	details := fmt.Sprintf("cancelled by %s", cancelledBy)
	if err := s.store.FinishJob(ctx, id, JobStatusCancelled, s.now(), job.RecordsDeleted, details); err != nil {
		return nil, err
	}
	return s.store.GetJob(ctx, id)
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, f JobFilter, limit, offset int) ([]Job, int, error) {
	jobs, err := s.store.ListJobs(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountJobs(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// IsNotFound reports whether err maps to a missing policy or job.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) || errors.Is(err, ErrJobNotFound)
}
