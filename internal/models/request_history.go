package models

import "time"

// HistoryAction names a transition recorded in the audit trail.
type HistoryAction string

const (
	ActionCreated           HistoryAction = "created"
	ActionForwarded         HistoryAction = "forwarded"
	ActionReassigned        HistoryAction = "reassigned"
	ActionApproved          HistoryAction = "approved"
	ActionRejected          HistoryAction = "rejected"
	ActionAutoEscalated     HistoryAction = "auto_escalated"
	ActionUrgentWarningSent HistoryAction = "urgent_warning_sent"
)

// Notes written by the system.
const (
	NoteDeletedByRequester = "Deleted by requester"
	NoteAutoEscalated      = "Auto escalated by system"
)

// RequestHistory is one immutable audit trail entry. A nil ActorID marks a system transition.
type RequestHistory struct {
	ID        int64         `db:"id" json:"id"`
	RequestID int64         `db:"request_id" json:"request_id"`
	Action    HistoryAction `db:"action" json:"action"`
	FromRole  Role          `db:"from_role" json:"from_role"`
	ToRole    *Role         `db:"to_role" json:"to_role,omitempty"`
	ActorID   *string       `db:"actor_id" json:"actor_id,omitempty"`
	Note      string        `db:"note" json:"note,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// System reports whether the entry was written without a human actor.
func (h RequestHistory) System() bool {
	return h.ActorID == nil
}
