package anomaly

import "time"

const (
	TypeBulkDataAccess      = "BULK_DATA_ACCESS"
	TypeUnusualExportPat    = "UNUSUAL_EXPORT_PATTERN"
	TypeMultipleIPAddresses = "MULTIPLE_IP_ADDRESSES"
	TypeAfterHoursAccess    = "AFTER_HOURS_ACCESS"
	TypeFailedLoginAttempts = "FAILED_LOGIN_ATTEMPTS"
	TypeChainIntegrity      = "CHAIN_INTEGRITY_FAILURE"
)

const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

const (
	StatusActive        = "ACTIVE"
	StatusInvestigating = "INVESTIGATING"
	StatusResolved      = "RESOLVED"
	StatusFalsePositive = "FALSE_POSITIVE"
)

// SeverityForRiskScore maps a 0-100 risk score onto an alert severity.
func SeverityForRiskScore(score int) string {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 40:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

type Alert struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Severity        string         `json:"severity"`
	Description     string         `json:"description"`
	UserID          string         `json:"userId,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	DetectedAt      time.Time      `json:"detectedAt"`
	Status          string         `json:"status"`
	ResolvedBy      string         `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time     `json:"resolvedAt,omitempty"`
	ResolutionNotes string         `json:"resolutionNotes,omitempty"`
}

type Filter struct {
	Type     string
	Severity string
	Status   string
	UserID   string
}

// RequestContext is the per-request observation fed to the detector by the
// HTTP hook.
type RequestContext struct {
	UserID         string
	IPAddress      string
	Method         string
	Path           string
	ResponseStatus int
}
