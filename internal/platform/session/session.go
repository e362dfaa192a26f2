// Package session holds the per-connection identity and the table that
// decides which actions a session may invoke.
package session

// Role is the authorization role attached to an authenticated identity.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RolePatient Role = "PATIENT"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RolePatient
}

// Session is the identity bound to one connection. The zero value is an
// anonymous session. It is owned by the connection's worker and never shared.
type Session struct {
	Identity string
	Role     Role
}

// Authenticated reports whether a user has logged in on this connection.
func (s *Session) Authenticated() bool {
	return s != nil && s.Identity != ""
}

// IsAdmin reports whether the session belongs to an administrator.
func (s *Session) IsAdmin() bool {
	return s.Authenticated() && s.Role == RoleAdmin
}

// Login replaces any prior identity on the connection.
func (s *Session) Login(identity string, role Role) {
	s.Identity = identity
	s.Role = role
}

// Logout resets the session to anonymous.
func (s *Session) Logout() {
	*s = Session{}
}
