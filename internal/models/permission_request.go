package models

import (
	"fmt"
	"time"
)

// RequestStatus is the lifecycle state of a permission request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// Terminal reports whether no further decision can be made.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// PermissionRequest is a student's request routed through the hierarchy.
type PermissionRequest struct {
	ID            int64         `db:"id" json:"id"`
	Code          string        `db:"request_code" json:"code"`
	StudentID     string        `db:"student_id" json:"student_id"`
	AssigneeID    string        `db:"assignee_id" json:"assignee_id"`
	Title         string        `db:"title" json:"title"`
	Reason        string        `db:"reason" json:"reason"`
	FromDate      time.Time     `db:"from_date" json:"from_date"`
	ToDate        time.Time     `db:"to_date" json:"to_date"`
	Status        RequestStatus `db:"status" json:"status"`
	CurrentLevel  Role          `db:"current_level" json:"current_level"`
	IsUrgent      bool          `db:"is_urgent" json:"is_urgent"`
	EscalateAt    *time.Time    `db:"escalate_at" json:"escalate_at,omitempty"`
	WarningSentAt *time.Time    `db:"warning_sent_at" json:"warning_sent_at,omitempty"`
	AppliedAt     time.Time     `db:"applied_at" json:"applied_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
	// AutoEscalated is only populated by list queries.
	AutoEscalated bool `db:"auto_escalated" json:"auto_escalated"`
}

// FormatRequestCode derives the human readable code from a request id.
func FormatRequestCode(id int64) string {
	return fmt.Sprintf("REQ-%06d", id)
}

// Clone returns a deep copy so callers can mutate without aliasing timestamps.
func (r *PermissionRequest) Clone() *PermissionRequest {
	if r == nil {
		return nil
	}
	cp := *r
	if r.EscalateAt != nil {
		t := *r.EscalateAt
		cp.EscalateAt = &t
	}
	if r.WarningSentAt != nil {
		t := *r.WarningSentAt
		cp.WarningSentAt = &t
	}
	return &cp
}

// RequestCounts aggregates a user's dashboard figures.
type RequestCounts struct {
	SubmittedTotal    int `db:"submitted_total" json:"submitted_total"`
	SubmittedPending  int `db:"submitted_pending" json:"submitted_pending"`
	SubmittedApproved int `db:"submitted_approved" json:"submitted_approved"`
	SubmittedRejected int `db:"submitted_rejected" json:"submitted_rejected"`
	ReceivedPending   int `db:"received_pending" json:"received_pending"`
	ReceivedApproved  int `db:"received_approved" json:"received_approved"`
	ReceivedRejected  int `db:"received_rejected" json:"received_rejected"`
}
