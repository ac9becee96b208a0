package reports

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) AuditCountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.DB.QueryRow(ctx,
		"SELECT COUNT(1) FROM audit_log_entries WHERE created_at >= $1", since).Scan(&count)
	return count, err
}

func (s *Store) OpenAlertCount(ctx context.Context, severities []string) (int64, error) {
	var count int64
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(1) FROM anomaly_alerts
		WHERE status = 'ACTIVE' AND severity = ANY($1)`, severities).Scan(&count)
	return count, err
}

func (s *Store) JobOutcomeCounts(ctx context.Context) (map[string]int64, error) {
	return s.groupCounts(ctx, "SELECT status, COUNT(1) FROM data_retention_jobs GROUP BY status")
}

func (s *Store) AlertTypeCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	return s.groupCounts(ctx,
		"SELECT type, COUNT(1) FROM anomaly_alerts WHERE detected_at >= $1 GROUP BY type", since)
}

type RetentionRun struct {
	EntityType     string     `json:"entityType"`
	Status         string     `json:"status"`
	RecordsDeleted int64      `json:"recordsDeleted"`
	ExecutedAt     *time.Time `json:"executedAt,omitempty"`
}

func (s *Store) RecentRetentionRuns(ctx context.Context, limit int) ([]RetentionRun, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT entity_type, status, records_deleted, executed_at
		FROM data_retention_jobs
		ORDER BY scheduled_for DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RetentionRun
	for rows.Next() {
		var r RetentionRun
		if err := rows.Scan(&r.EntityType, &r.Status, &r.RecordsDeleted, &r.ExecutedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ChainSubjects returns the distinct chain subjects with entries in the
// period, most recently active first.
func (s *Store) ChainSubjects(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT chain_subject
		FROM audit_log_entries
		WHERE created_at >= $1
		GROUP BY chain_subject
		ORDER BY MAX(created_at) DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, err
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}

func (s *Store) groupCounts(ctx context.Context, query string, args ...any) (map[string]int64, error) {
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}
	return counts, rows.Err()
}
