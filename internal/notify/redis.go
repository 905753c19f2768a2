package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event names published on the per-user channel.
const (
	EventBatchCompleted = "batch_completed"
	EventBatchFailed    = "batch_failed"
)

// Notifier publishes job outcome events over redis pub/sub so API instances
// can push them to connected submitters.
type Notifier struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Notifier.
func New(client *redis.Client, logger *slog.Logger) *Notifier {
	return &Notifier{client: client, logger: logger}
}

type envelope struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Notify publishes one event on the submitter's channel. A publish failure is
// reported but callers treat notification as best effort.
func (n *Notifier) Notify(ctx context.Context, userID, event string, payload interface{}) error {
	body, err := json.Marshal(envelope{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	channel := ChannelFor(userID)
	if err := n.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	n.logger.Debug("notification published",
		slog.String("channel", channel),
		slog.String("event", event),
	)
	return nil
}

// ChannelFor returns the pub/sub channel name for one submitter.
func ChannelFor(userID string) string {
	return "docflow:notifications:" + userID
}
