package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"paycore/internal/common/events"
)

// Handler processes one decoded event. A returned error redelivers the
// message after a backoff.
type Handler func(ctx context.Context, event *events.Event) error

// Consume pushes messages from consumer into handle until ctx is done.
// Undecodable messages are terminated rather than redelivered.
func Consume(ctx context.Context, consumer jetstream.Consumer, handle Handler, logger *slog.Logger) error {
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var event events.Event
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			logger.Error("dropping undecodable message", "subject", msg.Subject(), "error", err)
			_ = msg.Term()
			return
		}

		if err := handle(ctx, &event); err != nil {
			delay := redeliveryDelay(msg)
			logger.Warn("event handler failed",
				"event_id", event.ID,
				"type", event.Type,
				"retry_in", delay,
				"error", err,
			)
			_ = msg.NakWithDelay(delay)
			return
		}

		if err := msg.Ack(); err != nil {
			logger.Warn("ack failed", "event_id", event.ID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	return nil
}

// redeliveryDelay doubles from one second per delivery attempt, capped at
// thirty seconds.
func redeliveryDelay(msg jetstream.Msg) time.Duration {
	const maxDelay = 30 * time.Second
	meta, err := msg.Metadata()
	if err != nil || meta.NumDelivered == 0 {
		return time.Second
	}
	attempt := meta.NumDelivered - 1
	if attempt > 5 {
		return maxDelay
	}
	return min(time.Second<<attempt, maxDelay)
}
