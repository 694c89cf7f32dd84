package authz

const (
	RoleUser  = 10
	RoleAdmin = 50
)

// DefaultRole is assigned to every self-registered account.
const DefaultRole = RoleUser

func IsAdmin(roleID int) bool {
	return roleID == RoleAdmin
}

func RoleName(roleID int) string {
	switch roleID {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	}
	return "unknown"
}
