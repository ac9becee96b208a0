package privacy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"emooti/internal/domain/audit"
	"emooti/internal/platform/crypto"
)

type AuditAppender interface {
	Append(ctx context.Context, in audit.AppendInput) (audit.Entry, error)
}

type Service struct {
	store  StoreAPI
	pseudo *Pseudonymizer
	crypt  *crypto.Service
	audits AuditAppender
	now    func() time.Time
}

func NewService(store StoreAPI, pseudo *Pseudonymizer, crypt *crypto.Service, audits AuditAppender) *Service {
	return &Service{
		store:  store,
		pseudo: pseudo,
		crypt:  crypt,
		audits: audits,
		now:    time.Now,
	}
}

func (s *Service) Pseudonymize(value string) string {
	return s.pseudo.Pseudonymize(value)
}

// CreateMapping pseudonymizes the value and persists the mapping. A mapping
// already covering the same (entityType, entityId, fieldName) is returned
// as-is, so repeated pseudonymization of the same field stays idempotent.
func (s *Service) CreateMapping(ctx context.Context, in CreateMappingInput) (Mapping, error) {
	if in.OriginalValue == "" {
		return Mapping{}, fmt.Errorf("%w: original value is required", ErrInvalidMapping)
	}
	if in.EntityType == "" || in.EntityID == "" || in.FieldName == "" {
		return Mapping{}, fmt.Errorf("%w: entity type, entity id and field name are required", ErrInvalidMapping)
	}

	existing, err := s.store.FindMappingByField(ctx, in.EntityType, in.EntityID, in.FieldName)
	if err != nil {
		return Mapping{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	encrypted, err := s.crypt.EncryptString(in.OriginalValue)
	if err != nil {
		return Mapping{}, fmt.Errorf("encrypt original value: %w", err)
	}

	m := Mapping{
		ID:                   uuid.New().String(),
		OriginalValueHash:    OriginalHash(in.OriginalValue),
		Pseudonym:            s.pseudo.Pseudonymize(in.OriginalValue),
		EntityType:           in.EntityType,
		EntityID:             in.EntityID,
		FieldName:            in.FieldName,
		EncryptedOriginal:    encrypted,
		EncryptionKeyVersion: s.crypt.KeyVersion(),
		CreatedBy:            in.CreatedBy,
		CreatedAt:            s.now(),
	}
	if err := s.store.InsertMapping(ctx, m); err != nil {
		return Mapping{}, err
	}

	s.record(ctx, in.CreatedBy, audit.ActionPseudonymization, in.EntityType, in.EntityID, map[string]any{
		"fieldName": in.FieldName,
		"pseudonym": m.Pseudonym,
	})
	return m, nil
}

func (s *Service) LookupByOriginalValue(ctx context.Context, value string) (*Mapping, error) {
	m, err := s.store.FindMappingByOriginalHash(ctx, OriginalHash(value))
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMappingNotFound
	}
	return m, nil
}

func (s *Service) LookupByField(ctx context.Context, entityType, entityID, fieldName string) (*Mapping, error) {
	m, err := s.store.FindMappingByField(ctx, entityType, entityID, fieldName)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMappingNotFound
	}
	return m, nil
}

func (s *Service) ListMappings(ctx context.Context, entityType string, limit, offset int) ([]Mapping, error) {
	return s.store.ListMappings(ctx, entityType, limit, offset)
}

// RevealMapping decrypts the original value behind a pseudonym. Each reveal
// is itself recorded on the audit trail.
func (s *Service) RevealMapping(ctx context.Context, pseudonym, requestedBy string) (string, error) {
	m, err := s.store.FindMappingByPseudonym(ctx, pseudonym)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", ErrMappingNotFound
	}
	if !s.crypt.Configured() || len(m.EncryptedOriginal) == 0 {
		return "", ErrRevealUnavailable
	}

	original, err := s.crypt.DecryptString(m.EncryptedOriginal)
	if err != nil {
		return "", fmt.Errorf("decrypt original value: %w", err)
	}

	s.record(ctx, requestedBy, audit.ActionDataAccess, m.EntityType, m.EntityID, map[string]any{
		"operation": "pseudonym_reveal",
		"fieldName": m.FieldName,
		"pseudonym": m.Pseudonym,
	})
	return original, nil
}

func (s *Service) RecordConsent(ctx context.Context, in RecordConsentInput) (Consent, error) {
	if in.SubjectID == "" || in.Purpose == "" {
		return Consent{}, fmt.Errorf("%w: subject id and purpose are required", ErrInvalidConsent)
	}

	c := Consent{
		ID:         uuid.New().String(),
		SubjectID:  in.SubjectID,
		Purpose:    in.Purpose,
		Status:     ConsentStatusGranted,
		Source:     in.Source,
		Note:       in.Note,
		GrantedAt:  s.now(),
		RecordedBy: in.RecordedBy,
	}
	if err := s.store.InsertConsent(ctx, c); err != nil {
		return Consent{}, err
	}

	s.record(ctx, in.RecordedBy, audit.ActionConsentRecorded, "ConsentRecord", c.ID, map[string]any{
		"subjectId": c.SubjectID,
		"purpose":   c.Purpose,
		"status":    c.Status,
	})
	return c, nil
}

func (s *Service) RevokeConsent(ctx context.Context, id, revokedBy string) (Consent, error) {
	if err := s.store.RevokeConsent(ctx, id, s.now()); err != nil {
		return Consent{}, err
	}
	c, err := s.store.GetConsent(ctx, id)
	if err != nil {
		return Consent{}, err
	}
	if c == nil {
		return Consent{}, ErrConsentNotFound
	}

	s.record(ctx, revokedBy, audit.ActionConsentRecorded, "ConsentRecord", c.ID, map[string]any{
		"subjectId": c.SubjectID,
		"purpose":   c.Purpose,
		"status":    c.Status,
	})
	return *c, nil
}

func (s *Service) ListConsents(ctx context.Context, subjectID string) ([]Consent, error) {
	return s.store.ListConsents(ctx, subjectID)
}

func (s *Service) record(ctx context.Context, userID, action, resourceType, resourceID string, details map[string]any) {
	if s.audits == nil {
		return
	}
	_, err := s.audits.Append(ctx, audit.AppendInput{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	})
	if err != nil {
		slog.Error("failed to audit privacy operation",
			slog.String("action", action), slog.Any("error", err))
	}
}
