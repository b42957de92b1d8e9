package core

import "strings"

// Role is the part a participant plays in a consultation.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// CanUpdateStatus reports whether the role may change a consultation status.
func (r Role) CanUpdateStatus() bool {
	return r == RoleDoctor || r == RoleAdmin
}

// Identity is the authenticated participant bound to a connection.
type Identity struct {
	UserID      string
	DisplayName string
	Role        Role
}

// normalize trims fields and fills defaults. It returns false when the identity is unusable.
func (id Identity) normalize() (Identity, bool) {
	id.UserID = strings.TrimSpace(id.UserID)
	id.DisplayName = strings.TrimSpace(id.DisplayName)
	if id.UserID == "" {
		return id, false
	}
	if id.DisplayName == "" {
		id.DisplayName = id.UserID
	}
	if id.Role == "" {
		id.Role = RolePatient
	}
	return id, id.Role.Valid()
}
