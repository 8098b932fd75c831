package domain

import dErrors "limscore/pkg/domain-errors"

// Role is the caller's authorization role as carried in the access token.
type Role string

const (
	// RoleReception may create receipts and record handovers.
	RoleReception Role = "reception"
	// RoleTechnician may accept assignments and submit results.
	RoleTechnician Role = "technician"
	// RoleReviewer may approve or reject submitted results and drive the
	// receipt/sample roll-up transitions. The lab manager holds this role.
	RoleReviewer Role = "reviewer"
	// RoleAdmin may perform any operation.
	RoleAdmin Role = "admin"
)

// validRoles is the single source of truth for supported roles.
var validRoles = map[Role]bool{
	RoleReception:  true,
	RoleTechnician: true,
	RoleReviewer:   true,
	RoleAdmin:      true,
}

// ParseRole constructs a Role from external input (token claims).
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "role cannot be empty")
	}
	r := Role(s)
	if !validRoles[r] {
		return "", dErrors.New(dErrors.CodeBadRequest, "unsupported role")
	}
	return r, nil
}

// IsValid checks if the role is one of the supported enum values.
func (r Role) IsValid() bool { return validRoles[r] }

func (r Role) String() string { return string(r) }

// Actor is the authenticated caller of a workflow operation. Handlers build
// it from token claims; services receive it explicitly so authorization
// decisions stay testable without HTTP plumbing.
type Actor struct {
	ID   ActorID
	Name string
	Role Role
}

// Can reports whether the actor holds one of the given roles. Admin passes
// every check.
func (a Actor) Can(roles ...Role) bool {
	if a.Role == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}
