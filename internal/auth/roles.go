package auth

import "strings"

// Role represents a user role.
type Role string

const (
	// RoleViewer reads alerts, decisions and station state.
	RoleViewer Role = "viewer"
	// RoleOperator additionally approves or rejects alerts.
	RoleOperator Role = "operator"
	// RoleAdmin additionally triggers sweeps and reads the audit trail.
	RoleAdmin Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRanks[role] >= roleRanks[required]
}
