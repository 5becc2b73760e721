// Package events defines the envelope paycore publishes on every intent
// and grant transition, and the route catalog feed it consumes.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is the broker envelope. Data holds the aggregate snapshot after the
// transition, so consumers never need to call back into the API.
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OwnerID       string          `json:"owner_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// schemaVersion bumps when Data changes incompatibly for an event type.
const schemaVersion = 1

// NewEvent stamps a fresh ULID, which sorts by creation time and doubles
// as the broker's dedupe key.
func NewEvent(eventType, ownerID, aggregateType, aggregateID string, occurredAt time.Time, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       schemaVersion,
		OccurredAt:    occurredAt.UTC(),
		OwnerID:       ownerID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          raw,
	}, nil
}

type correlationKey struct{}

// WithCorrelationID tags ctx so events raised while serving the request
// carry the caller's correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Correlate copies ctx's correlation id onto e.
func (e *Event) Correlate(ctx context.Context) *Event {
	e.CorrelationID = CorrelationID(ctx)
	return e
}

func (e *Event) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher sends events to the broker. Publishing is best effort: callers
// log failures and never roll back a committed transition.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) error { return nil }

// Aggregate types
const (
	AggregateIntent = "payment_intent"
	AggregateGrant  = "authorization_grant"
	AggregateRoutes = "route_catalog"
)

// Event types
const (
	// Intent lifecycle
	EventIntentCreated          = "intent.created"
	EventIntentAuthorized       = "intent.authorized"
	EventIntentExecuting        = "intent.executing"
	EventIntentCompleted        = "intent.completed"
	EventIntentFailed           = "intent.failed"
	EventIntentCancelled        = "intent.cancelled"
	EventIntentExpired          = "intent.expired"
	EventIntentExecutionTimeout = "intent.execution_timeout"

	// Grant administration and usage
	EventGrantCreated = "grant.created"
	EventGrantRevoked = "grant.revoked"
	EventGrantUsed    = "grant.used"

	// Route catalog feed
	EventRouteCatalogUpdated = "routes.catalog.updated"
)
