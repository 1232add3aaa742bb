package viewer

// RoleSet is a configured set of privileged account types.
type RoleSet map[string]struct{}

// NewRoleSet builds a RoleSet from the given account types.
func NewRoleSet(roles ...string) RoleSet {
	set := make(RoleSet, len(roles))
	for _, role := range roles {
		set[role] = struct{}{}
	}
	return set
}

// CanBypassEntitlement reports whether the given account type sees courses
// unfiltered. This predicate is the single place the privileged-role bypass
// is decided; the entitlement engine itself stays role-agnostic.
func (s RoleSet) CanBypassEntitlement(accountType string) bool {
	_, ok := s[accountType]
	return ok
}

// DefaultPrivilegedRoles is the platform's stock bypass set.
func DefaultPrivilegedRoles() RoleSet {
	return NewRoleSet("Admin", "Instructor")
}
