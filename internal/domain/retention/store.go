package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StoreAPI interface {
	CreatePolicy(ctx context.Context, p Policy) error
	ActivePolicy(ctx context.Context, entityType string) (*Policy, error)
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)
	ListAutoApplyPolicies(ctx context.Context) ([]Policy, error)
	UpdatePolicyStatus(ctx context.Context, id, status string) error
	DeletePolicy(ctx context.Context, id string) error
	SetLastApplied(ctx context.Context, id string, at time.Time) error

	InsertJob(ctx context.Context, j Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, f JobFilter, limit, offset int) ([]Job, error)
	CountJobs(ctx context.Context, f JobFilter) (int, error)
	FinishJob(ctx context.Context, id, status string, executedAt time.Time, deleted int64, errorDetails string) error
}

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

// CreatePolicy deactivates any currently active policy for the same entity
// type and inserts the new one in a single transaction, so at most one
// ACTIVE policy exists per entity type.
func (s *Store) CreatePolicy(ctx context.Context, p Policy) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE retention_policies SET status = $1
		WHERE entity_type = $2 AND status = $3`,
		PolicyStatusInactive, p.EntityType, PolicyStatusActive)
	if err != nil {
		return fmt.Errorf("deactivate previous policy: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO retention_policies (
			id, entity_type, retention_years, trigger_field, description,
			legal_basis, status, auto_apply, grace_period_days,
			notify_before_days, created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,'')::uuid,$12)`,
		p.ID, p.EntityType, p.RetentionYears, p.TriggerField, p.Description,
		p.LegalBasis, p.Status, p.AutoApply, p.GracePeriodDays,
		p.NotifyBeforeDays, p.CreatedBy, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert retention policy: %w", err)
	}

	return tx.Commit(ctx)
}

const policyColumns = `
	id, entity_type, retention_years, trigger_field,
	COALESCE(description, ''), COALESCE(legal_basis, ''), status, auto_apply,
	grace_period_days, notify_before_days,
	COALESCE(created_by::text, ''), created_at, last_applied`

func (s *Store) ActivePolicy(ctx context.Context, entityType string) (*Policy, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+policyColumns+`
		FROM retention_policies
		WHERE entity_type = $1 AND status = $2`,
		entityType, PolicyStatusActive)

	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query active policy: %w", err)
	}
	return p, nil
}

func (s *Store) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+policyColumns+`
		FROM retention_policies WHERE id = $1`, id)

	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query retention policy: %w", err)
	}
	return p, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]Policy, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+policyColumns+`
		FROM retention_policies
		ORDER BY entity_type, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func (s *Store) ListAutoApplyPolicies(ctx context.Context) ([]Policy, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+policyColumns+`
		FROM retention_policies
		WHERE status = $1 AND auto_apply = TRUE
		ORDER BY entity_type`, PolicyStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list auto-apply policies: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func (s *Store) UpdatePolicyStatus(ctx context.Context, id, status string) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE retention_policies SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update policy status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (s *Store) DeletePolicy(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `
		DELETE FROM retention_policies WHERE id = $1 AND status <> $2`,
		id, PolicyStatusActive)
	if err != nil {
		return fmt.Errorf("delete retention policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (s *Store) SetLastApplied(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE retention_policies SET last_applied = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("update last applied: %w", err)
	}
	return nil
}

func (s *Store) InsertJob(ctx context.Context, j Job) error {
	snapshot, err := json.Marshal(j.PolicyApplied)
	if err != nil {
		return fmt.Errorf("marshal policy snapshot: %w", err)
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO data_retention_jobs (
			id, entity_type, policy_applied, cutoff_date, scheduled_for,
			executed_at, records_eligible, records_deleted, status,
			created_by, executed_by, error_details
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,
			NULLIF($10,'')::uuid, NULLIF($11,'')::uuid, NULLIF($12,''))`,
		j.ID, j.EntityType, snapshot, j.CutoffDate, j.ScheduledFor,
		j.ExecutedAt, j.RecordsEligible, j.RecordsDeleted, j.Status,
		j.CreatedBy, j.ExecutedBy, j.ErrorDetails)
	if err != nil {
		return fmt.Errorf("insert retention job: %w", err)
	}
	return nil
}

// FinishJob settles a job row. A completed run reconciles records_eligible
// with the actual delete count; failed and cancelled runs keep the
// pre-delete estimate.
func (s *Store) FinishJob(ctx context.Context, id, status string, executedAt time.Time, deleted int64, errorDetails string) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE data_retention_jobs
		SET status = $1, executed_at = $2, records_deleted = $3,
			records_eligible = CASE WHEN $1 = 'COMPLETED' THEN $3 ELSE records_eligible END,
			error_details = NULLIF($4,'')
		WHERE id = $5`,
		status, executedAt, deleted, errorDetails, id)
	if err != nil {
		return fmt.Errorf("finish retention job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM data_retention_jobs WHERE id = $1`, id)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query retention job: %w", err)
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, f JobFilter, limit, offset int) ([]Job, error) {
	query, args := buildJobQuery(`SELECT `+jobColumns+` FROM data_retention_jobs`, f)
	query += fmt.Sprintf(" ORDER BY scheduled_for DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list retention jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retention job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *Store) CountJobs(ctx context.Context, f JobFilter) (int, error) {
	query, args := buildJobQuery(`SELECT COUNT(1) FROM data_retention_jobs`, f)
	var count int
	if err := s.DB.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count retention jobs: %w", err)
	}
	return count, nil
}

func buildJobQuery(base string, f JobFilter) (string, []any) {
	query := base + " WHERE 1=1"
	args := []any{}
	idx := 1
	if f.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", idx)
		args = append(args, f.EntityType)
		idx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
	}
	return query, args
}

const jobColumns = `
	id, entity_type, policy_applied, cutoff_date, scheduled_for, executed_at,
	records_eligible, records_deleted, status,
	COALESCE(created_by::text, ''), COALESCE(executed_by::text, ''),
	COALESCE(error_details, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*Policy, error) {
	var p Policy
	err := row.Scan(&p.ID, &p.EntityType, &p.RetentionYears, &p.TriggerField,
		&p.Description, &p.LegalBasis, &p.Status, &p.AutoApply,
		&p.GracePeriodDays, &p.NotifyBeforeDays, &p.CreatedBy, &p.CreatedAt,
		&p.LastApplied)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPolicies(rows pgx.Rows) ([]Policy, error) {
	var policies []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retention policy: %w", err)
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j        Job
		snapshot []byte
	)
	err := row.Scan(&j.ID, &j.EntityType, &snapshot, &j.CutoffDate,
		&j.ScheduledFor, &j.ExecutedAt, &j.RecordsEligible, &j.RecordsDeleted,
		&j.Status, &j.CreatedBy, &j.ExecutedBy, &j.ErrorDetails)
	if err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &j.PolicyApplied); err != nil {
			return nil, fmt.Errorf("unmarshal policy snapshot: %w", err)
		}
	}
	return &j, nil
}
