package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Account event types.
const (
	EventUserRegistered    = "user.registered"
	EventUserAuthenticated = "user.authenticated"
)

const attrEventType = "event-type"

// AccountEvent is published after a successful registration or login. It
// carries no credentials and no token.
type AccountEvent struct {
	Type       string    `json:"type"`
	UserID     int       `json:"user_id"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher writes account events to one channel.
type EventPublisher struct {
	mq      *MQ
	channel string
}

func NewEventPublisher(m *MQ, channel string) *EventPublisher {
	return &EventPublisher{mq: m, channel: channel}
}

// Channel returns the channel events are written to.
func (p *EventPublisher) Channel() string {
	return p.channel
}

// PublishAccountEvent encodes ev as JSON and publishes it.
func (p *EventPublisher) PublishAccountEvent(ctx context.Context, ev AccountEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode account event: %w", err)
	}

	attrs := map[string]string{
		attrEventType:   ev.Type,
		attrContentType: "application/json",
	}
	if _, err := p.mq.Publish(ctx, p.channel, data, attrs); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// DecodeAccountEvent parses a message produced by PublishAccountEvent.
func DecodeAccountEvent(msg Message) (AccountEvent, error) {
	var ev AccountEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return AccountEvent{}, fmt.Errorf("decode account event %s: %w", msg.ID, err)
	}
	return ev, nil
}
