package privacy

import (
	"errors"
	"time"
)

var (
	ErrMappingNotFound   = errors.New("pseudonym mapping not found")
	ErrRevealUnavailable = errors.New("original value is not recoverable")
	ErrInvalidMapping    = errors.New("invalid pseudonym mapping")
	ErrInvalidConsent    = errors.New("invalid consent record")
	ErrConsentNotFound   = errors.New("consent record not found")
)

// Mapping links a pseudonym back to the field it replaced. The original
// value never appears in plaintext; it is kept AES-GCM encrypted so an
// authorized reversal stays possible while the mapping table alone reveals
// nothing.
type Mapping struct {
	ID                   string    `json:"id"`
	OriginalValueHash    string    `json:"originalValueHash"`
	Pseudonym            string    `json:"pseudonym"`
	EntityType           string    `json:"entityType"`
	EntityID             string    `json:"entityId"`
	FieldName            string    `json:"fieldName"`
	EncryptedOriginal    []byte    `json:"-"`
	EncryptionKeyVersion int       `json:"encryptionKeyVersion"`
	CreatedBy            string    `json:"createdBy,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

type CreateMappingInput struct {
	OriginalValue string `json:"originalValue"`
	EntityType    string `json:"entityType"`
	EntityID      string `json:"entityId"`
	FieldName     string `json:"fieldName"`
	CreatedBy     string `json:"-"`
}

const (
	ConsentStatusGranted = "GRANTED"
	ConsentStatusRevoked = "REVOKED"
)

type Consent struct {
	ID        string     `json:"id"`
	SubjectID string     `json:"subjectId"`
	Purpose   string     `json:"purpose"`
	Status    string     `json:"status"`
	Source    string     `json:"source,omitempty"`
	Note      string     `json:"note,omitempty"`
	GrantedAt time.Time  `json:"grantedAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	RecordedBy string    `json:"recordedBy,omitempty"`
}

type RecordConsentInput struct {
	SubjectID  string `json:"subjectId"`
	Purpose    string `json:"purpose"`
	Source     string `json:"source"`
	Note       string `json:"note"`
	RecordedBy string `json:"-"`
}
