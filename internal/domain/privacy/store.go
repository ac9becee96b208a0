package privacy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StoreAPI interface {
	InsertMapping(ctx context.Context, m Mapping) error
	FindMappingByOriginalHash(ctx context.Context, hash string) (*Mapping, error)
	FindMappingByField(ctx context.Context, entityType, entityID, fieldName string) (*Mapping, error)
	FindMappingByPseudonym(ctx context.Context, pseudonym string) (*Mapping, error)
	ListMappings(ctx context.Context, entityType string, limit, offset int) ([]Mapping, error)

	InsertConsent(ctx context.Context, c Consent) error
	GetConsent(ctx context.Context, id string) (*Consent, error)
	ListConsents(ctx context.Context, subjectID string) ([]Consent, error)
	RevokeConsent(ctx context.Context, id string, at time.Time) error
}

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) InsertMapping(ctx context.Context, m Mapping) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO pseudonym_mappings (
			id, original_value_hash, pseudonym, entity_type, entity_id,
			field_name, encrypted_original, encryption_key_version,
			created_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,'')::uuid,$10)`,
		m.ID, m.OriginalValueHash, m.Pseudonym, m.EntityType, m.EntityID,
		m.FieldName, m.EncryptedOriginal, m.EncryptionKeyVersion,
		m.CreatedBy, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pseudonym mapping: %w", err)
	}
	return nil
}

const mappingColumns = `
	id, original_value_hash, pseudonym, entity_type, entity_id, field_name,
	COALESCE(encrypted_original, ''::bytea), encryption_key_version,
	COALESCE(created_by::text, ''), created_at`

func (s *Store) FindMappingByOriginalHash(ctx context.Context, hash string) (*Mapping, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+mappingColumns+`
		FROM pseudonym_mappings WHERE original_value_hash = $1
		ORDER BY created_at LIMIT 1`, hash)
	return scanMappingRow(row, "by original hash")
}

func (s *Store) FindMappingByField(ctx context.Context, entityType, entityID, fieldName string) (*Mapping, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+mappingColumns+`
		FROM pseudonym_mappings
		WHERE entity_type = $1 AND entity_id = $2 AND field_name = $3`,
		entityType, entityID, fieldName)
	return scanMappingRow(row, "by field")
}

func (s *Store) FindMappingByPseudonym(ctx context.Context, pseudonym string) (*Mapping, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+mappingColumns+`
		FROM pseudonym_mappings WHERE pseudonym = $1
		ORDER BY created_at LIMIT 1`, pseudonym)
	return scanMappingRow(row, "by pseudonym")
}

func (s *Store) ListMappings(ctx context.Context, entityType string, limit, offset int) ([]Mapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM pseudonym_mappings`
	args := []any{}
	if entityType != "" {
		query += ` WHERE entity_type = $1`
		args = append(args, entityType)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pseudonym mappings: %w", err)
	}
	defer rows.Close()

	var mappings []Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pseudonym mapping: %w", err)
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

func (s *Store) InsertConsent(ctx context.Context, c Consent) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO consent_records (
			id, subject_id, purpose, status, source, note,
			granted_at, revoked_at, recorded_by
		) VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8,NULLIF($9,'')::uuid)`,
		c.ID, c.SubjectID, c.Purpose, c.Status, c.Source, c.Note,
		c.GrantedAt, c.RevokedAt, c.RecordedBy)
	if err != nil {
		return fmt.Errorf("insert consent record: %w", err)
	}
	return nil
}

const consentColumns = `
	id, subject_id, purpose, status, COALESCE(source, ''), COALESCE(note, ''),
	granted_at, revoked_at, COALESCE(recorded_by::text, '')`

func (s *Store) GetConsent(ctx context.Context, id string) (*Consent, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+consentColumns+`
		FROM consent_records WHERE id = $1`, id)

	c, err := scanConsent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query consent record: %w", err)
	}
	return c, nil
}

func (s *Store) ListConsents(ctx context.Context, subjectID string) ([]Consent, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+consentColumns+`
		FROM consent_records WHERE subject_id = $1
		ORDER BY granted_at DESC`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list consent records: %w", err)
	}
	defer rows.Close()

	var consents []Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent record: %w", err)
		}
		consents = append(consents, *c)
	}
	return consents, rows.Err()
}

func (s *Store) RevokeConsent(ctx context.Context, id string, at time.Time) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE consent_records
		SET status = $1, revoked_at = $2
		WHERE id = $3 AND status = $4`,
		ConsentStatusRevoked, at, id, ConsentStatusGranted)
	if err != nil {
		return fmt.Errorf("revoke consent record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConsentNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMappingRow(row rowScanner, what string) (*Mapping, error) {
	m, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query pseudonym mapping %s: %w", what, err)
	}
	return m, nil
}

func scanMapping(row rowScanner) (*Mapping, error) {
	var m Mapping
	err := row.Scan(&m.ID, &m.OriginalValueHash, &m.Pseudonym, &m.EntityType,
		&m.EntityID, &m.FieldName, &m.EncryptedOriginal,
		&m.EncryptionKeyVersion, &m.CreatedBy, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(m.EncryptedOriginal) == 0 {
		m.EncryptedOriginal = nil
	}
	return &m, nil
}

func scanConsent(row rowScanner) (*Consent, error) {
	var c Consent
	err := row.Scan(&c.ID, &c.SubjectID, &c.Purpose, &c.Status, &c.Source,
		&c.Note, &c.GrantedAt, &c.RevokedAt, &c.RecordedBy)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
