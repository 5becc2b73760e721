package nats

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"

	"paycore/internal/common/events"
)

type stubMsg struct {
	jetstream.Msg
	delivered uint64
	metaErr   error
}

func (m stubMsg) Metadata() (*jetstream.MsgMetadata, error) {
	if m.metaErr != nil {
		return nil, m.metaErr
	}
	return &jetstream.MsgMetadata{NumDelivered: m.delivered}, nil
}

func TestRedeliveryDelay(t *testing.T) {
	tests := []struct {
		delivered uint64
		want      time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{6, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, redeliveryDelay(stubMsg{delivered: tt.delivered}), "delivery %d", tt.delivered)
	}
	assert.Equal(t, time.Second, redeliveryDelay(stubMsg{metaErr: errors.New("not a jetstream message")}))
}

func TestSubjectsCoverPublishedEvents(t *testing.T) {
	for _, eventType := range []string{
		events.EventIntentCreated,
		events.EventIntentCompleted,
		events.EventRouteCatalogUpdated,
	} {
		subject := Subject(eventType)
		covered := false
		for _, pattern := range Subjects {
			if strings.HasPrefix(subject, strings.TrimSuffix(pattern, ">")) {
				covered = true
			}
		}
		assert.True(t, covered, "%s is outside the stream subjects", subject)
	}
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{URL: "nats://localhost:4222"}.Enabled())
}
