package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultStreamMaxLen = 10000

// EventStreamRepository appends events to a capped Redis stream.
type EventStreamRepository struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewEventStreamRepository publishes to stream.
func NewEventStreamRepository(client *redis.Client, stream string) *EventStreamRepository {
	return &EventStreamRepository{client: client, stream: stream, maxLen: defaultStreamMaxLen}
}

// Enabled reports whether a client is configured.
func (r *EventStreamRepository) Enabled() bool {
	return r != nil && r.client != nil && r.stream != ""
}

// Publish appends one entry and returns its stream id.
func (r *EventStreamRepository) Publish(ctx context.Context, values map[string]interface{}) (string, error) {
	if !r.Enabled() {
		return "", fmt.Errorf("event stream not configured")
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return id, nil
}
