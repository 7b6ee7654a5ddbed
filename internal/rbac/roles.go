package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	// RoleSupport may read dashboards but never act on calls.
	RoleSupport = "support"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// CanActOnCalls reports whether role may place, accept, reject or hang up calls.
func CanActOnCalls(role string) bool { return role == RoleUser || role == RoleAdmin }
