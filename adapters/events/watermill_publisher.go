package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/veltis-io/veltis-api/ports"
)

const (
	TopicLogin  = "veltis.auth.login"
	TopicLogout = "veltis.auth.logout"
)

// AuthEvent is the payload published for session lifecycle changes
type AuthEvent struct {
	Address    string    `json:"address"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogin publishes a login event
func (p *WatermillPublisher) PublishLogin(ctx context.Context, address string, userID string) error {
	return p.publish(ctx, TopicLogin, address, userID)
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string, userID string) error {
	return p.publish(ctx, TopicLogout, address, userID)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, address, userID string) error {
	payload, err := json.Marshal(AuthEvent{
		Address:    address,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishLogin(context.Context, string, string) error  { return nil }
func (NopPublisher) PublishLogout(context.Context, string, string) error { return nil }
