package domain

import (
	"context"
	"time"
)

// EventBus moves scan requests, reports and alerts between processes.
// Every call is scoped to a tenant.
type EventBus interface {
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes payload and blocks until a handler answers
	// through the message's ReplyTo.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope delivered to handlers. Metadata carries the
// publisher's trace context.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
	ReplyTo   string            `json:"replyTo,omitempty"`
}

type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus. Type is "channel" or "nats".
type EventBusConfig struct {
	Type              string `json:"type" yaml:"type"`
	ChannelBufferSize int    `json:"channelBufferSize" yaml:"channelBufferSize"`

	NATSUrl           string `json:"natsUrl" yaml:"natsUrl"`
	NATSToken         string `json:"-" yaml:"natsToken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"natsReconnectWait"` // seconds

	// NATSQueueGroup makes workers on several instances share one stream
	// of scan requests instead of each receiving every message.
	NATSQueueGroup string `json:"natsQueueGroup" yaml:"natsQueueGroup"`
}

// Topic names for the evaluation pipeline.
const (
	TopicEventsIngested = "tripwire.events.ingested"
	TopicScanRequested  = "tripwire.scan.requested"
	TopicReport         = "tripwire.report"
	TopicAlert          = "tripwire.alert"
)

// ScanRequest asks the worker to evaluate a tenant's stored events. An
// empty UserID scans every user in the range.
type ScanRequest struct {
	TenantID string    `json:"tenantId"`
	UserID   string    `json:"userId,omitempty"`
	Since    time.Time `json:"since"`
	Until    time.Time `json:"until"`
	TraceID  string    `json:"traceId,omitempty"`
}
