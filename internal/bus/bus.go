// Package bus provides the event buses that carry scan requests, reports
// and alerts between the API and the worker.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/tripwire/internal/domain"
)

// requestTimeout bounds Request when ctx has no deadline.
var requestTimeout = 30 * time.Second

// New returns the bus named by cfg.Type.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage builds the envelope shared by both buses. The caller's trace
// context travels in Metadata so the worker's spans join the request's.
func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))
	return msg
}

// messageContext restores the publisher's trace context onto ctx.
func messageContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Metadata) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
}

// responder is implemented by buses with a native reply path.
type responder interface {
	respond(ctx context.Context, msg *domain.Message, payload []byte) error
}

// Reply answers a message sent with Request. Messages without a ReplyTo
// are ignored.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	if msg.ReplyTo == "" {
		return nil
	}
	if r, ok := b.(responder); ok {
		return r.respond(ctx, msg, payload)
	}
	return b.Publish(ctx, msg.TenantID, msg.ReplyTo, payload)
}

// ReplyJSON encodes v and replies with it.
func ReplyJSON(ctx context.Context, b domain.EventBus, msg *domain.Message, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode reply to %s: %w", msg.ID, err)
	}
	return Reply(ctx, b, msg, payload)
}

// PublishJSON encodes v and publishes it.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// Decode reads a JSON payload into T.
func Decode[T any](msg *domain.Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s message %s: %w", msg.Topic, msg.ID, err)
	}
	return v, nil
}
