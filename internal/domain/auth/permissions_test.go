package auth

import "testing"

func TestAdminHasAllPermissions(t *testing.T) {
	for _, perm := range DefaultPermissions {
		if !HasRolePermission(RoleAdmin, perm) {
			t.Fatalf("admin missing permission %s", perm)
		}
	}
}

func TestStaffCannotManageRetention(t *testing.T) {
	if HasRolePermission(RoleStaff, PermRetentionManage) {
		t.Fatal("staff should not manage retention")
	}
	if !HasRolePermission(RoleStaff, PermRetentionRead) {
		t.Fatal("staff should read retention")
	}
}

func TestUnknownRoleHasNothing(t *testing.T) {
	if HasRolePermission("ghost", PermAuditRead) {
		t.Fatal("unknown role granted permission")
	}
}
