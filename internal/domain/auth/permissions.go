package auth

const (
	PermAuditRead        = "compliance.audit.read"
	PermAuditVerify      = "compliance.audit.verify"
	PermAlertsRead       = "compliance.alerts.read"
	PermAlertsManage     = "compliance.alerts.manage"
	PermRetentionRead    = "compliance.retention.read"
	PermRetentionManage  = "compliance.retention.manage"
	PermPseudonymManage  = "compliance.pseudonym.manage"
	PermConsentsManage   = "compliance.consents.manage"
	PermReportsRead      = "compliance.reports.read"
	PermNotificationsUse = "notifications.use"
	PermUsersRead        = "directory.users.read"
	PermUsersManage      = "directory.users.manage"
)

var DefaultPermissions = []string{
	PermAuditRead,
	PermAuditVerify,
	PermAlertsRead,
	PermAlertsManage,
	PermRetentionRead,
	PermRetentionManage,
	PermPseudonymManage,
	PermConsentsManage,
	PermReportsRead,
	PermNotificationsUse,
	PermUsersRead,
	PermUsersManage,
}

var RolePermissions = map[string][]string{
	RoleAdmin: DefaultPermissions,
	RoleStaff: {
		PermAuditRead,
		PermAlertsRead,
		PermRetentionRead,
		PermReportsRead,
		PermNotificationsUse,
		PermUsersRead,
	},
	RoleExaminer: {
		PermReportsRead,
		PermNotificationsUse,
	},
}

// HasRolePermission resolves permissions from the static role map. The
// compliance engine does not own role administration; the surrounding
// platform assigns roles, this map only gates the compliance routes.
func HasRolePermission(roleName, permission string) bool {
	for _, perm := range RolePermissions[roleName] {
		if perm == permission {
			return true
		}
	}
	return false
}
