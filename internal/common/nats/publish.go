package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"paycore/internal/common/events"
)

// Header names stamped on every published event so consumers can route
// without decoding the body.
const (
	HeaderEventType     = "Paycore-Event-Type"
	HeaderAggregateID   = "Paycore-Aggregate-Id"
	HeaderCorrelationID = "Paycore-Correlation-Id"
)

// Publisher implements events.Publisher on JetStream. The event id doubles
// as the message id, so a retried publish inside the stream's duplicate
// window is stored once.
type Publisher struct {
	js     jetstream.JetStream
	logger *slog.Logger
}

func NewPublisher(c *Client, logger *slog.Logger) *Publisher {
	return &Publisher{js: c.js, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, event *events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event.Type, err)
	}

	msg := nats.NewMsg(Subject(event.Type))
	msg.Data = body
	msg.Header.Set(HeaderEventType, event.Type)
	msg.Header.Set(HeaderAggregateID, event.AggregateID)
	if event.CorrelationID != "" {
		msg.Header.Set(HeaderCorrelationID, event.CorrelationID)
	}

	ack, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("publishing %s for %s: %w", event.Type, event.AggregateID, err)
	}
	p.logger.Debug("event published",
		"event_id", event.ID,
		"type", event.Type,
		"seq", ack.Sequence,
		"duplicate", ack.Duplicate,
	)
	return nil
}

var _ events.Publisher = (*Publisher)(nil)
