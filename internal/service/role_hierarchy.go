package service

import "github.com/noah-isme/campusiq-api/internal/models"

// RoleHierarchy is the immutable role → next roles table built once at start-up.
type RoleHierarchy struct {
	next map[models.Role][]models.Role
}

// NewRoleHierarchy builds the canonical chain. Deployments without a dean drop it from every list.
func NewRoleHierarchy(includeDean bool) *RoleHierarchy {
	chain := map[models.Role][]models.Role{
		models.RoleStudent:   {models.RoleProctor, models.RoleStaff, models.RoleHOD, models.RoleDean, models.RolePrincipal},
		models.RoleProctor:   {models.RoleHOD, models.RoleDean, models.RolePrincipal},
		models.RoleStaff:     {models.RoleHOD, models.RoleDean, models.RolePrincipal},
		models.RoleHOD:       {models.RoleDean, models.RolePrincipal},
		models.RoleDean:      {models.RolePrincipal},
		models.RolePrincipal: {},
	}
	if !includeDean {
		for role, next := range chain {
			filtered := make([]models.Role, 0, len(next))
			for _, r := range next {
				if r != models.RoleDean {
					filtered = append(filtered, r)
				}
			}
			chain[role] = filtered
		}
	}
	return &RoleHierarchy{next: chain}
}

// NextRoles returns the ordered roles role may hand a request to. Unknown roles have none.
func (h *RoleHierarchy) NextRoles(role models.Role) []models.Role {
	next := h.next[role]
	out := make([]models.Role, len(next))
	copy(out, next)
	return out
}

// IsReachable reports whether to is one of from's next roles.
func (h *RoleHierarchy) IsReachable(from, to models.Role) bool {
	for _, r := range h.next[from] {
		if r == to {
			return true
		}
	}
	return false
}

// CanEscalate reports whether a request at level has somewhere to go.
func (h *RoleHierarchy) CanEscalate(level models.Role) bool {
	return len(h.next[level]) > 0
}

// EscalationTarget returns the first next role of level.
func (h *RoleHierarchy) EscalationTarget(level models.Role) (models.Role, bool) {
	next := h.next[level]
	if len(next) == 0 {
		return "", false
	}
	return next[0], true
}

// EscalatingLevels lists the roles a pending request can still move on from.
func (h *RoleHierarchy) EscalatingLevels() []models.Role {
	levels := make([]models.Role, 0, len(h.next))
	for _, role := range models.Roles() {
		if h.CanEscalate(role) {
			levels = append(levels, role)
		}
	}
	return levels
}
