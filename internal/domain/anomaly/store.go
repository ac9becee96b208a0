package anomaly

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
	Insert(ctx context.Context, alert Alert) error
	FindActiveSince(ctx context.Context, alertType, severity, userID string, since time.Time) (*Alert, error)
	UpdateMerged(ctx context.Context, id, description string, metadata map[string]any) error
	UpdateStatus(ctx context.Context, id, status string) error
	Resolve(ctx context.Context, id, status, notes, resolvedBy string, resolvedAt time.Time) error
	Get(ctx context.Context, id string) (*Alert, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]Alert, error)
	Count(ctx context.Context, filter Filter) (int, error)
	CountsBySeverity(ctx context.Context) (map[string]int64, error)
	CountsByStatus(ctx context.Context) (map[string]int64, error)
}

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const alertColumns = `id, type, severity, description, COALESCE(user_id::text, ''), metadata_json,
           detected_at, status, COALESCE(resolved_by, ''), resolved_at, COALESCE(resolution_notes, '')`

func (s *Store) Insert(ctx context.Context, alert Alert) error {
	metadata, err := json.Marshal(alert.Metadata)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
    INSERT INTO anomaly_alerts
      (id, type, severity, description, user_id, metadata_json, detected_at, status,
       resolved_by, resolved_at, resolution_notes)
    VALUES ($1,$2,$3,$4,NULLIF($5,'')::uuid,$6,$7,$8,NULLIF($9,''),$10,NULLIF($11,''))
  `, alert.ID, alert.Type, alert.Severity, alert.Description, alert.UserID, metadata,
		alert.DetectedAt, alert.Status, alert.ResolvedBy, alert.ResolvedAt, alert.ResolutionNotes)
	return err
}

func (s *Store) FindActiveSince(ctx context.Context, alertType, severity, userID string, since time.Time) (*Alert, error) {
	row := s.DB.QueryRow(ctx, `
    SELECT `+alertColumns+`
    FROM anomaly_alerts
    WHERE type = $1 AND severity = $2
      AND user_id IS NOT DISTINCT FROM NULLIF($3,'')::uuid
      AND status = $4 AND detected_at >= $5
    ORDER BY detected_at DESC
    LIMIT 1
  `, alertType, severity, userID, StatusActive, since)

	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return alert, nil
}

func (s *Store) UpdateMerged(ctx context.Context, id, description string, metadata map[string]any) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
    UPDATE anomaly_alerts
    SET description = $1, metadata_json = $2
    WHERE id = $3
  `, description, payload, id)
	return err
}

func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := s.DB.Exec(ctx, "UPDATE anomaly_alerts SET status = $1 WHERE id = $2", status, id)
	return err
}

func (s *Store) Resolve(ctx context.Context, id, status, notes, resolvedBy string, resolvedAt time.Time) error {
	_, err := s.DB.Exec(ctx, `
    UPDATE anomaly_alerts
    SET status = $1, resolution_notes = $2, resolved_by = $3, resolved_at = $4
    WHERE id = $5
  `, status, notes, resolvedBy, resolvedAt, id)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*Alert, error) {
	row := s.DB.QueryRow(ctx, `
    SELECT `+alertColumns+`
    FROM anomaly_alerts
    WHERE id = $1
  `, id)
	return scanAlert(row)
}

func (s *Store) List(ctx context.Context, filter Filter, limit, offset int) ([]Alert, error) {
	query, args := buildAlertQuery("SELECT "+alertColumns, filter)
	query += fmt.Sprintf(" ORDER BY detected_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *alert)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context, filter Filter) (int, error) {
	query, args := buildAlertQuery("SELECT COUNT(1)", filter)
	var total int
	if err := s.DB.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CountsBySeverity(ctx context.Context) (map[string]int64, error) {
	return s.groupCounts(ctx, "severity")
}

func (s *Store) CountsByStatus(ctx context.Context) (map[string]int64, error) {
	return s.groupCounts(ctx, "status")
}

func (s *Store) groupCounts(ctx context.Context, column string) (map[string]int64, error) {
	rows, err := s.DB.Query(ctx, "SELECT "+column+", COUNT(1) FROM anomaly_alerts GROUP BY "+column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		out[key] = count
	}
	return out, rows.Err()
}

func buildAlertQuery(prefix string, filter Filter) (string, []any) {
	query := prefix + " FROM anomaly_alerts WHERE 1=1"
	args := []any{}
	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", len(args)+1)
		args = append(args, filter.Type)
	}
	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", len(args)+1)
		args = append(args, filter.Severity)
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, filter.Status)
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id::text = $%d", len(args)+1)
		args = append(args, filter.UserID)
	}
	return query, args
}

func scanAlert(row pgx.Row) (*Alert, error) {
	var alert Alert
	var metadata []byte
	if err := row.Scan(&alert.ID, &alert.Type, &alert.Severity, &alert.Description, &alert.UserID,
		&metadata, &alert.DetectedAt, &alert.Status, &alert.ResolvedBy, &alert.ResolvedAt,
		&alert.ResolutionNotes); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &alert.Metadata); err != nil {
			return nil, err
		}
	}
	return &alert, nil
}
