package enums

// UserRole distinguishes staff from regular library members.
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

// IsValid reports whether the role is one of the supported values.
func (r UserRole) IsValid() bool {
	return r == RoleAdmin || r == RoleUser
}

// IsStaff reports whether the role grants cross-user visibility.
func (r UserRole) IsStaff() bool {
	return r == RoleAdmin
}
