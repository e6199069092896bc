package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/campusiq-api/internal/models"
	"github.com/noah-isme/campusiq-api/pkg/mailer"
)

type mailSender interface {
	Enabled() bool
	Send(ctx context.Context, msg mailer.Message) error
}

type actorResolver interface {
	ResolveActor(ctx context.Context, userID string) (*models.Actor, error)
}

// EmailChannel renders plain-text e-mails for workflow events.
type EmailChannel struct {
	mailer    mailSender
	directory actorResolver
}

// NewEmailChannel builds the e-mail channel. The directory resolves the requesting student for message bodies.
func NewEmailChannel(m mailSender, directory actorResolver) *EmailChannel {
	return &EmailChannel{mailer: m, directory: directory}
}

// Name implements NotificationChannel.
func (c *EmailChannel) Name() string { return "email" }

// Deliver implements NotificationChannel.
func (c *EmailChannel) Deliver(ctx context.Context, n Notification) error {
	if c.mailer == nil || !c.mailer.Enabled() {
		return fmt.Errorf("%w: mailer disabled", ErrNotDeliverable)
	}
	if !n.Recipient.HasContact() {
		return fmt.Errorf("%w: recipient %s has no e-mail", ErrNotDeliverable, n.Recipient.UserID)
	}
	var student *models.Actor
	if c.directory != nil {
		// A missing student only degrades the body.
		student, _ = c.directory.ResolveActor(ctx, n.Request.StudentID)
	}
	return c.mailer.Send(ctx, composeEmail(n, student))
}

var emailSubjects = map[NotificationEvent]string{
	EventRequestAssigned:   "New Permission Request Assigned",
	EventRequestForwarded:  "Permission Request Forwarded",
	EventRequestReassigned: "Permission Request Reassigned",
	EventRequestApproved:   "Permission Request Approved",
	EventRequestRejected:   "Permission Request Rejected",
	EventRequestDeleted:    "Permission Request Withdrawn",
	EventRequestEscalated:  "Permission Request Auto Escalated",
	EventUrgentWarning:     "Urgent Permission Request Awaiting Review",
}

func composeEmail(n Notification, student *models.Actor) mailer.Message {
	subject, ok := emailSubjects[n.Event]
	if !ok {
		subject = "Permission Request Update"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", n.Recipient.DisplayName())
	b.WriteString(emailLead(n))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Request ID: %s\n", n.Request.Code)
	if student != nil {
		fmt.Fprintf(&b, "Student: %s (%s)\n", student.DisplayName(), student.Username)
	}
	fmt.Fprintf(&b, "Title: %s\n", n.Request.Title)
	fmt.Fprintf(&b, "From Date: %s\n", n.Request.FromDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "To Date: %s\n", n.Request.ToDate.Format("2006-01-02"))
	urgent := "NO"
	if n.Request.IsUrgent {
		urgent = "YES"
	}
	fmt.Fprintf(&b, "Urgent: %s\n", urgent)
	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(string(n.Request.Status)))
	if n.Event == EventUrgentWarning && n.Request.EscalateAt != nil {
		fmt.Fprintf(&b, "Escalates At: %s\n", n.Request.EscalateAt.UTC().Format(time.RFC1123))
	}
	if n.Note != "" {
		fmt.Fprintf(&b, "Note: %s\n", n.Note)
	}
	b.WriteString("\nPlease login to CampusIQ and review it from your dashboard.\n\nRegards,\nCampusIQ Team")

	return mailer.Message{
		To:      n.Recipient.Email,
		Subject: fmt.Sprintf("[%s] %s", n.Request.Code, subject),
		Body:    b.String(),
	}
}

func emailLead(n Notification) string {
	by := "the system"
	if n.Actor != nil {
		by = n.Actor.DisplayName()
	}
	switch n.Event {
	case EventRequestAssigned:
		return "A new permission request has been assigned to you for review."
	case EventRequestForwarded:
		return fmt.Sprintf("Your permission request was forwarded to %s by %s.", strings.ToUpper(string(n.Request.CurrentLevel)), by)
	case EventRequestReassigned:
		return fmt.Sprintf("Your permission request was reassigned by %s.", by)
	case EventRequestApproved:
		return fmt.Sprintf("Your permission request was approved by %s.", by)
	case EventRequestRejected:
		return fmt.Sprintf("Your permission request was rejected by %s.", by)
	case EventRequestDeleted:
		return "A permission request assigned to you was withdrawn by the requester."
	case EventRequestEscalated:
		return fmt.Sprintf("Your permission request was not reviewed in time and moved to %s.", strings.ToUpper(string(n.Request.CurrentLevel)))
	case EventUrgentWarning:
		return "An urgent permission request assigned to you will be escalated soon."
	default:
		return "A permission request you are involved in was updated."
	}
}

type eventPublisher interface {
	Enabled() bool
	Publish(ctx context.Context, values map[string]interface{}) (string, error)
}

// StreamChannel appends workflow events to a Redis stream for downstream consumers.
type StreamChannel struct {
	publisher eventPublisher
}

// NewStreamChannel wraps publisher.
func NewStreamChannel(publisher eventPublisher) *StreamChannel {
	return &StreamChannel{publisher: publisher}
}

// Name implements NotificationChannel.
func (c *StreamChannel) Name() string { return "stream" }

// Deliver implements NotificationChannel.
func (c *StreamChannel) Deliver(ctx context.Context, n Notification) error {
	if c.publisher == nil || !c.publisher.Enabled() {
		return fmt.Errorf("%w: stream disabled", ErrNotDeliverable)
	}
	_, err := c.publisher.Publish(ctx, streamValues(n))
	return err
}

func streamValues(n Notification) map[string]interface{} {
	values := map[string]interface{}{
		"id":            n.ID,
		"event":         string(n.Event),
		"request_id":    n.Request.ID,
		"request_code":  n.Request.Code,
		"status":        string(n.Request.Status),
		"current_level": string(n.Request.CurrentLevel),
		"recipient_id":  n.Recipient.UserID,
		"occurred_at":   n.OccurredAt.Format(time.RFC3339Nano),
	}
	if n.Actor != nil {
		values["actor_id"] = n.Actor.UserID
	}
	if n.Note != "" {
		values["note"] = n.Note
	}
	return values
}
