package retention

import (
	"errors"
	"time"
)

const (
	PolicyStatusActive    = "ACTIVE"
	PolicyStatusInactive  = "INACTIVE"
	PolicyStatusSuspended = "SUSPENDED"
)

const (
	JobStatusScheduled  = "SCHEDULED"
	JobStatusInProgress = "IN_PROGRESS"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
	JobStatusCancelled  = "CANCELLED"
)

// Entity types with a deletion rule. Anything else fails execution.
const (
	EntityUser     = "User"
	EntityStudent  = "Student"
	EntityAuditLog = "AuditLog"
)

var (
	ErrNoActivePolicy        = errors.New("no active retention policy")
	ErrUnsupportedEntityType = errors.New("unsupported entity type")
	ErrInvalidPolicy         = errors.New("invalid retention policy")
	ErrPolicyNotFound        = errors.New("retention policy not found")
	ErrPolicyActive          = errors.New("active policies cannot be deleted")
	ErrJobNotFound           = errors.New("retention job not found")
	ErrJobNotCancellable     = errors.New("job is not cancellable")
)

type Policy struct {
	ID               string     `json:"id"`
	EntityType       string     `json:"entityType"`
	RetentionYears   int        `json:"retentionYears"`
	TriggerField     string     `json:"triggerField"`
	Description      string     `json:"description,omitempty"`
	LegalBasis       string     `json:"legalBasis,omitempty"`
	Status           string     `json:"status"`
	AutoApply        bool       `json:"autoApply"`
	GracePeriodDays  int        `json:"gracePeriodDays"`
	NotifyBeforeDays int        `json:"notifyBeforeDays"`
	CreatedBy        string     `json:"createdBy,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastApplied      *time.Time `json:"lastApplied,omitempty"`
}

type Job struct {
	ID              string     `json:"id"`
	EntityType      string     `json:"entityType"`
	PolicyApplied   Policy     `json:"policyApplied"`
	CutoffDate      time.Time  `json:"cutoffDate"`
	ScheduledFor    time.Time  `json:"scheduledFor"`
	ExecutedAt      *time.Time `json:"executedAt,omitempty"`
	RecordsEligible int64      `json:"recordsEligible"`
	RecordsDeleted  int64      `json:"recordsDeleted"`
	Status          string     `json:"status"`
	CreatedBy       string     `json:"createdBy,omitempty"`
	ExecutedBy      string     `json:"executedBy,omitempty"`
	ErrorDetails    string     `json:"errorDetails,omitempty"`
}

type JobFilter struct {
	EntityType string
	Status     string
}

type CreatePolicyInput struct {
	EntityType       string `json:"entityType"`
	RetentionYears   int    `json:"retentionYears"`
	TriggerField     string `json:"triggerField"`
	Description      string `json:"description"`
	LegalBasis       string `json:"legalBasis"`
	AutoApply        bool   `json:"autoApply"`
	GracePeriodDays  int    `json:"gracePeriodDays"`
	NotifyBeforeDays int    `json:"notifyBeforeDays"`
	CreatedBy        string `json:"-"`
}

type ExecuteResult struct {
	JobID        string `json:"jobId"`
	DeletedCount int64  `json:"deletedCount"`
}
