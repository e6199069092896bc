package models

import "strings"

// Role is a position in the approval hierarchy.
type Role string

const (
	RoleStudent   Role = "student"
	RoleProctor   Role = "proctor"
	RoleStaff     Role = "staff"
	RoleHOD       Role = "hod"
	RoleDean      Role = "dean"
	RolePrincipal Role = "principal"
)

// Roles lists every role from requester to the top of the chain.
func Roles() []Role {
	return []Role{RoleStudent, RoleProctor, RoleStaff, RoleHOD, RoleDean, RolePrincipal}
}

// ParseRole normalises raw input into a known role.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	return role, role.Valid()
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleProctor, RoleStaff, RoleHOD, RoleDean, RolePrincipal:
		return true
	}
	return false
}

// Department is an organisational unit scoping who may handle a request.
type Department string

const (
	DepartmentCSE   Department = "CSE"
	DepartmentECE   Department = "ECE"
	DepartmentMECH  Department = "MECH"
	DepartmentCIVIL Department = "CIVIL"
	DepartmentEEE   Department = "EEE"
)

// Valid reports whether d is a known department.
func (d Department) Valid() bool {
	switch d {
	case DepartmentCSE, DepartmentECE, DepartmentMECH, DepartmentCIVIL, DepartmentEEE:
		return true
	}
	return false
}

// Actor is a directory user as seen by the permission workflow.
type Actor struct {
	UserID     string     `db:"id" json:"id"`
	Username   string     `db:"username" json:"username"`
	FullName   string     `db:"full_name" json:"full_name"`
	Email      string     `db:"email" json:"email,omitempty"`
	Role       Role       `db:"role" json:"role"`
	Department Department `db:"department" json:"department"`
}

// DisplayName prefers the full name and falls back to the username.
func (a *Actor) DisplayName() string {
	if a == nil {
		return ""
	}
	if name := strings.TrimSpace(a.FullName); name != "" {
		return name
	}
	return a.Username
}

// HasContact reports whether the actor can receive e-mail.
func (a *Actor) HasContact() bool {
	return a != nil && strings.TrimSpace(a.Email) != ""
}

// Same compares identities.
func (a *Actor) Same(other *Actor) bool {
	return a != nil && other != nil && a.UserID == other.UserID
}
