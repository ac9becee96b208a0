package auth

const (
	RoleAdmin    = "admin"
	RoleStaff    = "staff"
	RoleExaminer = "examiner"
)

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

type UserContext struct {
	UserID   string
	RoleName string
	Email    string
}

func (u UserContext) IsAdmin() bool {
	return u.RoleName == RoleAdmin
}
