package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/aws"
)

// QueueSender sends a message body with string attributes, e.g. *aws.Publisher.
type QueueSender interface {
	Send(ctx context.Context, messageBody string, attributes map[string]string) error
}

var _ QueueSender = (*aws.Publisher)(nil)

// QueueSink forwards events as JSON to a message queue for external sync.
type QueueSink struct {
	sender QueueSender
}

// NewQueueSink returns a Subscriber that writes to sender.
func NewQueueSink(sender QueueSender) *QueueSink {
	return &QueueSink{sender: sender}
}

func (s *QueueSink) Handle(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	attrs := map[string]string{
		aws.AttrGroupKey: e.OrderID,
		"kind":           string(e.Kind),
		"new_status":     string(e.NewStatus),
		aws.AttrDedupKey: e.Key(),
	}
	return s.sender.Send(ctx, string(body), attrs)
}

// RedisPublisher is the subset of the go-redis client used by RedisSink.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events on a Redis pub/sub channel for live dashboards.
type RedisSink struct {
	client  RedisPublisher
	channel string
}

// NewRedisSink returns a Subscriber publishing to channel.
func NewRedisSink(client RedisPublisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Handle(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", s.channel, err)
	}
	return nil
}

// LogSink writes every event to a logger. Useful for local runs.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Handle(ctx context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "order changed",
		"order_id", e.OrderID,
		"kind", e.Kind,
		"old_status", e.OldStatus,
		"new_status", e.NewStatus,
		"version", e.Version,
	)
	return nil
}
