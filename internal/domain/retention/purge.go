package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Purger deletes up to limit expired rows for one entity type and reports
// how many rows went away. A return of 0 means the entity is fully purged.
type Purger interface {
	PurgeBatch(ctx context.Context, entityType string, cutoff time.Time, limit int) (int64, error)
	CountEligible(ctx context.Context, entityType string, cutoff time.Time) (int64, error)
}

// InactiveCounter reports how many directory rows sit past a cutoff. The
// directory store implements it; the purger delegates its user and student
// estimates there so counting and deleting share one set of rules.
type InactiveCounter interface {
	CountInactiveUsersBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountInactiveStudentsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type DBPurger struct {
	DB        *pgxpool.Pool
	Directory InactiveCounter
}

func NewDBPurger(db *pgxpool.Pool, directory InactiveCounter) *DBPurger {
	return &DBPurger{DB: db, Directory: directory}
}

// Deletion rules per entity type. Users and students are only purged once
// inactive; audit entries are purged on age alone. Deletes are keyed through
// an id subquery so each batch holds locks briefly.
func (p *DBPurger) PurgeBatch(ctx context.Context, entityType string, cutoff time.Time, limit int) (int64, error) {
	var query string
	switch entityType {
	case EntityUser:
		query = `
			DELETE FROM users WHERE id IN (
				SELECT id FROM users
				WHERE status = 'inactive' AND last_activity < $1
				LIMIT $2)`
	case EntityStudent:
		query = `
			DELETE FROM students WHERE id IN (
				SELECT id FROM students
				WHERE status = 'inactive' AND created_at < $1
				LIMIT $2)`
	case EntityAuditLog:
		query = `
			DELETE FROM audit_log_entries WHERE id IN (
				SELECT id FROM audit_log_entries
				WHERE created_at < $1
				LIMIT $2)`
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedEntityType, entityType)
	}

	tag, err := p.DB.Exec(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("purge %s batch: %w", entityType, err)
	}
	return tag.RowsAffected(), nil
}

func (p *DBPurger) CountEligible(ctx context.Context, entityType string, cutoff time.Time) (int64, error) {
	switch entityType {
	case EntityUser:
		return p.Directory.CountInactiveUsersBefore(ctx, cutoff)
	case EntityStudent:
		return p.Directory.CountInactiveStudentsBefore(ctx, cutoff)
	case EntityAuditLog:
		var count int64
		err := p.DB.QueryRow(ctx, `
			SELECT COUNT(1) FROM audit_log_entries WHERE created_at < $1`, cutoff).Scan(&count)
		if err != nil {
			return 0, fmt.Errorf("count eligible audit entries: %w", err)
		}
		return count, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedEntityType, entityType)
	}
}
