package service

import (
	"time"

	"github.com/noah-isme/campusiq-api/internal/models"
	"github.com/noah-isme/campusiq-api/pkg/config"
)

// DeadlinePolicy computes escalate_at values. A nil deadline means the level cannot escalate.
type DeadlinePolicy struct {
	hierarchy *RoleHierarchy
	normal    time.Duration
	urgentMin int
	urgentMax int
}

// NewDeadlinePolicy builds a policy from escalation settings.
func NewDeadlinePolicy(hierarchy *RoleHierarchy, cfg config.EscalationConfig) DeadlinePolicy {
	p := DeadlinePolicy{
		hierarchy: hierarchy,
		normal:    cfg.NormalDeadline,
		urgentMin: cfg.UrgentMinMinutes,
		urgentMax: cfg.UrgentMaxMinutes,
	}
	if p.normal <= 0 {
		p.normal = 24 * time.Hour
	}
	if p.urgentMin <= 0 {
		p.urgentMin = 10
	}
	if p.urgentMax < p.urgentMin {
		p.urgentMax = p.urgentMin
	}
	return p
}

// ClampUrgentMinutes bounds the requested urgency. Missing input uses the minimum.
func (p DeadlinePolicy) ClampUrgentMinutes(minutes *int) int {
	if minutes == nil || *minutes < p.urgentMin {
		return p.urgentMin
	}
	if *minutes > p.urgentMax {
		return p.urgentMax
	}
	return *minutes
}

// Initial returns the deadline of a newly created request.
func (p DeadlinePolicy) Initial(level models.Role, urgent bool, minutes *int, now time.Time) *time.Time {
	if !p.hierarchy.CanEscalate(level) {
		return nil
	}
	if urgent {
		return at(now.Add(time.Duration(p.ClampUrgentMinutes(minutes)) * time.Minute))
	}
	return at(now.Add(p.normal))
}

// Normal returns now plus the normal deadline when level can escalate.
func (p DeadlinePolicy) Normal(level models.Role, now time.Time) *time.Time {
	if !p.hierarchy.CanEscalate(level) {
		return nil
	}
	return at(now.Add(p.normal))
}

// AfterForward keeps an urgent request's running deadline and restarts the normal one otherwise.
func (p DeadlinePolicy) AfterForward(req *models.PermissionRequest, level models.Role, now time.Time) *time.Time {
	if !p.hierarchy.CanEscalate(level) {
		return nil
	}
	if req.IsUrgent && req.EscalateAt != nil {
		return at(*req.EscalateAt)
	}
	return p.Normal(level, now)
}

// AfterReassign keeps a running deadline across a sideways hand-off. A level that
// cannot escalate clears it and one that gains escalation starts a normal deadline.
func (p DeadlinePolicy) AfterReassign(req *models.PermissionRequest, level models.Role, now time.Time) *time.Time {
	if !p.hierarchy.CanEscalate(level) {
		return nil
	}
	if req.EscalateAt != nil {
		return at(*req.EscalateAt)
	}
	return p.Normal(level, now)
}

// Repair restores the deadline of a legacy row from its application time.
func (p DeadlinePolicy) Repair(req *models.PermissionRequest) *time.Time {
	if !p.hierarchy.CanEscalate(req.CurrentLevel) {
		return nil
	}
	return at(req.AppliedAt.Add(p.normal))
}

func at(t time.Time) *time.Time {
	return &t
}
