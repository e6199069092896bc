package dto

import "github.com/noah-isme/campusiq-api/internal/models"

// DateLayout is the wire format of request dates.
const DateLayout = "2006-01-02"

// CreatePermissionRequest payload submitted by a student.
type CreatePermissionRequest struct {
	TargetUserID  string `json:"target_user_id" validate:"required"`
	Title         string `json:"title" validate:"required,max=100"`
	Reason        string `json:"reason" validate:"required"`
	FromDate      string `json:"from_date" validate:"required,datetime=2006-01-02"`
	ToDate        string `json:"to_date" validate:"required,datetime=2006-01-02"`
	IsUrgent      bool   `json:"is_urgent"`
	UrgentMinutes *int   `json:"urgent_minutes,omitempty"`
}

// ForwardRequest hands a request to a user of a next-level role.
type ForwardRequest struct {
	TargetRole   string `json:"target_role" validate:"required"`
	TargetUserID string `json:"target_user_id" validate:"required"`
}

// ReassignRequest hands a request to another user of the same department.
type ReassignRequest struct {
	TargetUserID string `json:"target_user_id" validate:"required"`
}

// DecisionRequest carries an optional remark for approve and reject.
type DecisionRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// BulkForwardRequest forwards several requests to the same target.
type BulkForwardRequest struct {
	RequestIDs   []int64 `json:"request_ids" validate:"required,min=1,dive,gt=0"`
	TargetRole   string  `json:"target_role" validate:"required"`
	TargetUserID string  `json:"target_user_id" validate:"required"`
}

// BulkForwardResult reports which requests moved.
type BulkForwardResult struct {
	Updated int     `json:"updated"`
	Skipped []int64 `json:"skipped"`
}

// TrackResponse is the audit trail of a request. Request is nil once the requester deleted it.
type TrackResponse struct {
	RequestID int64                     `json:"request_id"`
	Code      string                    `json:"code"`
	Deleted   bool                      `json:"deleted"`
	Request   *models.PermissionRequest `json:"request,omitempty"`
	History   []models.RequestHistory   `json:"history"`
}

// ForwardOptionsResponse lists who the assignee may forward to.
type ForwardOptionsResponse struct {
	AllowedRoles []models.Role  `json:"allowed_roles"`
	SelectedRole models.Role    `json:"selected_role,omitempty"`
	Users        []models.Actor `json:"users"`
}

// RoleRecipients groups same-department users of one role.
type RoleRecipients struct {
	Role  models.Role    `json:"role"`
	Users []models.Actor `json:"users"`
}

// RecipientOptionsResponse lists who the caller may address a new request to.
type RecipientOptionsResponse struct {
	Department models.Department `json:"department"`
	Roles      []RoleRecipients  `json:"roles"`
}
