package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Subjects covers every event this service publishes or consumes.
var Subjects = []string{"events.intent.>", "events.grant.>", "events.routes.>"}

// Subject maps an event type such as "intent.created" to the subject it is
// published on.
func Subject(eventType string) string {
	return "events." + eventType
}

// EnsureStream creates the service stream, or updates it in place when the
// configured retention changed.
func (c *Client) EnsureStream(ctx context.Context) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        c.cfg.Stream,
		Description: "paycore lifecycle events and route catalog feed",
		Subjects:    Subjects,
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		MaxAge:      c.cfg.StreamMaxAge,
		Replicas:    c.cfg.StreamReplicas,
		Duplicates:  c.cfg.DuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("ensuring stream %s: %w", c.cfg.Stream, err)
	}
	c.logger.Info("stream ready", "stream", c.cfg.Stream, "subjects", Subjects)
	return nil
}

// SnapshotConsumer returns a durable consumer that starts from the newest
// message of eventType. Snapshot feeds replace state wholesale, so older
// messages are never replayed.
func (c *Client) SnapshotConsumer(ctx context.Context, durable, eventType string) (jetstream.Consumer, error) {
	subject := Subject(eventType)
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", durable, subject, err)
	}
	c.logger.Info("consumer ready", "durable", durable, "subject", subject)
	return consumer, nil
}
