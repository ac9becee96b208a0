package audit

import (
	"encoding/json"
	"time"
)

// Action taxonomy recorded in audit entries.
const (
	ActionDataAccess         = "DATA_ACCESS"
	ActionDataModification   = "DATA_MODIFICATION"
	ActionDataDeletion       = "DATA_DELETION"
	ActionDataExport         = "DATA_EXPORT"
	ActionUserManagement     = "USER_MANAGEMENT"
	ActionSystemConfigChange = "SYSTEM_CONFIGURATION_CHANGE"
	ActionConsentRecorded    = "CONSENT_RECORDED"
	ActionLoginSuccess       = "LOGIN_SUCCESS"
	ActionLoginFailed        = "LOGIN_FAILED"
	ActionPseudonymization   = "PSEUDONYMIZATION"
	ActionRetentionExecution = "RETENTION_EXECUTION"
	ActionChainVerification  = "CHAIN_VERIFICATION"
)

// SystemSubject is the chain key for entries without a user. System-initiated
// actions form their own verifiable chain instead of dangling unlinked.
const SystemSubject = "system"

type Entry struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	UserID        string          `json:"userId,omitempty"`
	Action        string          `json:"action"`
	ResourceType  string          `json:"resourceType"`
	ResourceID    string          `json:"resourceId,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	IPAddress     string          `json:"ipAddress,omitempty"`
	UserAgent     string          `json:"userAgent,omitempty"`
	SessionID     string          `json:"sessionId,omitempty"`
	IntegrityHash string          `json:"integrityHash"`
	PreviousHash  string          `json:"previousHash"`
}

type AppendInput struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Details      any
	IPAddress    string
	UserAgent    string
	SessionID    string
}

type Filter struct {
	UserID       string
	Action       string
	ResourceType string
	From         time.Time
	To           time.Time
}

// VerifyReport is the outcome of replaying one subject's hash chain.
type VerifyReport struct {
	Subject        string `json:"subject"`
	Entries        int    `json:"entries"`
	Valid          bool   `json:"valid"`
	FirstInvalidID string `json:"firstInvalidId,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func SubjectKey(userID string) string {
	if userID == "" {
		return SystemSubject
	}
	return userID
}
