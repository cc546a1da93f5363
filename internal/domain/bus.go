package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `koanf:"type"`

	// Channel settings
	ChannelBufferSize int `koanf:"channel_buffer_size"`

	// NATS settings
	NATSUrl           string `koanf:"nats_url"`
	NATSToken         string `koanf:"nats_token"`
	NATSMaxReconnects int    `koanf:"nats_max_reconnects"`
	NATSReconnectWait int    `koanf:"nats_reconnect_wait"` // seconds
}

// Standard topic names.
const (
	TopicEventIngested = "kestrel.event.ingested"
	TopicDecision      = "kestrel.decision"
	TopicAlertReview   = "kestrel.alert.review"
	TopicAlertUser     = "kestrel.alert.user"
	TopicAlertOps      = "kestrel.alert.ops"
)

// EventMessage is the payload published on TopicEventIngested.
type EventMessage struct {
	ID    string `json:"id"`
	Event Event  `json:"event"`
}

// DecisionMessage is the payload published on TopicDecision.
type DecisionMessage struct {
	EventID   string    `json:"eventId"`
	SubjectID string    `json:"subjectId"`
	Category  Category  `json:"category"`
	Decision  *Decision `json:"decision,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// UserAlert is the payload published on TopicAlertUser.
type UserAlert struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}
