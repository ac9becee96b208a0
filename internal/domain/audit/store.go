package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StoreAPI interface {
	Insert(ctx context.Context, entry Entry) error
	LatestHash(ctx context.Context, subject string) (string, error)
	ListBySubject(ctx context.Context, subject string) ([]Entry, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]Entry, error)
	Count(ctx context.Context, filter Filter) (int, error)
	ListExport(ctx context.Context) ([]Entry, error)
	CountsByAction(ctx context.Context) (map[string]int64, error)
	IPWindowStats(ctx context.Context, ip string, since time.Time) (requests int, distinctUsers int, err error)
}

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const entryColumns = `id, created_at, COALESCE(user_id::text, ''), action, resource_type,
           COALESCE(resource_id, ''), details_json, COALESCE(ip_address, ''),
           COALESCE(user_agent, ''), COALESCE(session_id, ''), integrity_hash, previous_hash`

func (s *Store) Insert(ctx context.Context, entry Entry) error {
	_, err := s.DB.Exec(ctx, `
    INSERT INTO audit_log_entries
      (id, created_at, user_id, chain_subject, action, resource_type, resource_id,
       details_json, ip_address, user_agent, session_id, integrity_hash, previous_hash)
    VALUES ($1,$2,NULLIF($3,'')::uuid,$4,$5,$6,NULLIF($7,''),$8,NULLIF($9,''),NULLIF($10,''),NULLIF($11,''),$12,$13)
  `, entry.ID, entry.Timestamp, entry.UserID, SubjectKey(entry.UserID), entry.Action, entry.ResourceType,
		entry.ResourceID, entry.Details, entry.IPAddress, entry.UserAgent, entry.SessionID,
		entry.IntegrityHash, entry.PreviousHash)
	return err
}

func (s *Store) LatestHash(ctx context.Context, subject string) (string, error) {
	var hash string
	err := s.DB.QueryRow(ctx, `
    SELECT integrity_hash
    FROM audit_log_entries
    WHERE chain_subject = $1
    ORDER BY created_at DESC, id DESC
    LIMIT 1
  `, subject).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

func (s *Store) ListBySubject(ctx context.Context, subject string) ([]Entry, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+entryColumns+`
    FROM audit_log_entries
    WHERE chain_subject = $1
    ORDER BY created_at ASC, id ASC
  `, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) List(ctx context.Context, filter Filter, limit, offset int) ([]Entry, error) {
	query, args := buildBaseQuery("SELECT "+entryColumns, filter)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) Count(ctx context.Context, filter Filter) (int, error) {
	query, args := buildBaseQuery("SELECT COUNT(1)", filter)
	var total int
	if err := s.DB.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListExport(ctx context.Context) ([]Entry, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+entryColumns+`
    FROM audit_log_entries
    ORDER BY created_at DESC
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) CountsByAction(ctx context.Context) (map[string]int64, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT action, COUNT(1)
    FROM audit_log_entries
    GROUP BY action
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		out[action] = count
	}
	return out, rows.Err()
}

func (s *Store) IPWindowStats(ctx context.Context, ip string, since time.Time) (int, int, error) {
	var requests, distinctUsers int
	err := s.DB.QueryRow(ctx, `
    SELECT COUNT(1), COUNT(DISTINCT user_id) FILTER (WHERE user_id IS NOT NULL)
    FROM audit_log_entries
    WHERE ip_address = $1 AND created_at >= $2
  `, ip, since).Scan(&requests, &distinctUsers)
	if err != nil {
		return 0, 0, err
	}
	return requests, distinctUsers, nil
}

func buildBaseQuery(prefix string, filter Filter) (string, []any) {
	query := prefix + " FROM audit_log_entries WHERE 1=1"
	args := []any{}
	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id::text = $%d", len(args)+1)
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", len(args)+1)
		args = append(args, filter.Action)
	}
	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", len(args)+1)
		args = append(args, filter.ResourceType)
	}
	if !filter.From.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", len(args)+1)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += fmt.Sprintf(" AND created_at < $%d", len(args)+1)
		args = append(args, filter.To)
	}
	return query, args
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEntries(rows rowScanner) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.Action, &e.ResourceType,
			&e.ResourceID, &e.Details, &e.IPAddress, &e.UserAgent, &e.SessionID,
			&e.IntegrityHash, &e.PreviousHash); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
