package service

import (
	"context"

	"github.com/noah-isme/campusiq-api/internal/models"
)

// NotificationEvent names why an actor is being notified.
type NotificationEvent string

const (
	EventRequestAssigned   NotificationEvent = "request_assigned"
	EventRequestForwarded  NotificationEvent = "request_forwarded"
	EventRequestReassigned NotificationEvent = "request_reassigned"
	EventRequestApproved   NotificationEvent = "request_approved"
	EventRequestRejected   NotificationEvent = "request_rejected"
	EventRequestDeleted    NotificationEvent = "request_deleted"
	EventRequestEscalated  NotificationEvent = "request_auto_escalated"
	EventUrgentWarning     NotificationEvent = "urgent_warning"
)

// Notifier delivers best-effort notifications. Implementations never report failures to the caller.
// A nil actor marks a system-initiated transition.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent, req *models.PermissionRequest, recipient, actor *models.Actor, note string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, NotificationEvent, *models.PermissionRequest, *models.Actor, *models.Actor, string) {
}
