package notifications

const (
	TypeAlertRaised        = "alert_raised"
	TypeAlertResolved      = "alert_resolved"
	TypeRetentionWarning   = "retention_warning"
	TypeRetentionCompleted = "retention_completed"
	TypeRetentionFailed    = "retention_failed"
	TypeChainIntegrity     = "chain_integrity"
)
