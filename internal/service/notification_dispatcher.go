package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campusiq-api/internal/models"
	"github.com/noah-isme/campusiq-api/pkg/jobs"
)

const notificationJobType = "notification"

// ErrNotDeliverable marks a notification a channel can never deliver, such as a recipient without e-mail.
var ErrNotDeliverable = errors.New("notification not deliverable")

// Notification is the snapshot handed to delivery channels.
type Notification struct {
	ID         string                   `json:"id"`
	Event      NotificationEvent        `json:"event"`
	Request    models.PermissionRequest `json:"request"`
	Recipient  models.Actor             `json:"recipient"`
	Actor      *models.Actor            `json:"actor,omitempty"`
	Note       string                   `json:"note,omitempty"`
	OccurredAt time.Time                `json:"occurred_at"`
}

// NotificationChannel delivers notifications over one medium.
type NotificationChannel interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// delivery tracks the channels that still owe a notification across retries.
type delivery struct {
	notification Notification
	pending      []string
}

// NotificationDispatcherConfig sizes the worker pool.
type NotificationDispatcherConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// NotificationDispatcher fans notifications out to channels on a background worker pool.
// Enqueueing never blocks the caller; a full buffer drops the notification.
type NotificationDispatcher struct {
	queue    *jobs.Queue
	channels map[string]NotificationChannel
	order    []string
	metrics  *MetricsService
	logger   *zap.Logger
	now      func() time.Time
}

// NewNotificationDispatcher builds a dispatcher over channels. Call Start before notifying.
func NewNotificationDispatcher(cfg NotificationDispatcherConfig, metrics *MetricsService, logger *zap.Logger, channels ...NotificationChannel) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &NotificationDispatcher{
		channels: make(map[string]NotificationChannel, len(channels)),
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		if _, dup := d.channels[ch.Name()]; dup {
			continue
		}
		d.channels[ch.Name()] = ch
		d.order = append(d.order, ch.Name())
	}
	d.queue = jobs.NewQueue("notifications", d.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnGiveUp:   d.giveUp,
	})
	return d
}

// Start launches the workers.
func (d *NotificationDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop waits for workers to exit.
func (d *NotificationDispatcher) Stop() {
	d.queue.Stop()
}

// Drain waits until the buffer is empty or ctx ends. Short-lived processes call it before Stop.
func (d *NotificationDispatcher) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for d.queue.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Channels lists the configured channel names.
func (d *NotificationDispatcher) Channels() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Notify implements Notifier.
func (d *NotificationDispatcher) Notify(_ context.Context, event NotificationEvent, req *models.PermissionRequest, recipient, actor *models.Actor, note string) {
	if req == nil || recipient == nil || len(d.order) == 0 {
		return
	}
	n := Notification{
		ID:         uuid.NewString(),
		Event:      event,
		Request:    *req.Clone(),
		Recipient:  *recipient,
		Note:       note,
		OccurredAt: d.now().UTC(),
	}
	if actor != nil {
		cp := *actor
		n.Actor = &cp
	}
	job := jobs.Job{
		ID:      n.ID,
		Type:    notificationJobType,
		Payload: &delivery{notification: n, pending: d.Channels()},
	}
	if err := d.queue.TryEnqueue(job); err != nil {
		for _, name := range d.order {
			d.metrics.RecordNotification(name, "dropped")
		}
		d.logger.Warn("notification dropped",
			zap.String("event", string(event)),
			zap.Int64("request_id", req.ID),
			zap.String("recipient_id", recipient.UserID),
			zap.Error(err),
		)
	}
}

func (d *NotificationDispatcher) handle(ctx context.Context, job jobs.Job) error {
	state, ok := job.Payload.(*delivery)
	if !ok {
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}
	var failed []string
	var errs []error
	for _, name := range state.pending {
		ch, ok := d.channels[name]
		if !ok {
			continue
		}
		err := ch.Deliver(ctx, state.notification)
		switch {
		case err == nil:
			d.metrics.RecordNotification(name, "sent")
		case errors.Is(err, ErrNotDeliverable):
			d.metrics.RecordNotification(name, "skipped")
			d.logger.Debug("notification skipped",
				zap.String("channel", name),
				zap.String("notification_id", state.notification.ID),
				zap.Error(err),
			)
		default:
			d.metrics.RecordNotification(name, "failed")
			failed = append(failed, name)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	state.pending = failed
	return errors.Join(errs...)
}

func (d *NotificationDispatcher) giveUp(job jobs.Job, err error) {
	state, ok := job.Payload.(*delivery)
	if !ok {
		return
	}
	for _, name := range state.pending {
		d.metrics.RecordNotification(name, "abandoned")
	}
	d.logger.Error("notification abandoned",
		zap.String("notification_id", state.notification.ID),
		zap.String("event", string(state.notification.Event)),
		zap.Int64("request_id", state.notification.Request.ID),
		zap.Strings("channels", state.pending),
		zap.Error(err),
	)
}
