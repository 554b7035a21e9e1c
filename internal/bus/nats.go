package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/metrics"
)

// SubjectPrefix is the first token of every NATS subject.
const SubjectPrefix = "tripwire"

// Envelope fields travel as NATS headers; the payload is sent raw.
// Any other header is message metadata.
const (
	headerPrefix    = "Tripwire-"
	headerID        = headerPrefix + "Id"
	headerTenant    = headerPrefix + "Tenant"
	headerTopic     = headerPrefix + "Topic"
	headerTimestamp = headerPrefix + "Timestamp"
)

// NATSBus carries messages over NATS so the API and workers can run as
// separate processes. Subjects are tenant-scoped.
type NATSBus struct {
	mu            sync.RWMutex
	conn          *nats.Conn
	subscriptions map[string]*natsSubscription
	config        domain.EventBusConfig
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to NATS. The first connection is retried in the
// background like any later reconnect, so NATS may start after tripwire.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}

	opts := []nats.Option{
		nats.Name("tripwire"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait) * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.ConnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS connected", "url", nc.ConnectedUrl(), "server_id", nc.ConnectedServerId())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "error", err, "subject", subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := nats.Connect(cfg.NATSUrl, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSUrl, err)
	}
	if !conn.IsConnected() {
		slog.Warn("NATS unavailable, retrying in background", "url", cfg.NATSUrl)
	}

	return &NATSBus{
		conn:          conn,
		subscriptions: make(map[string]*natsSubscription),
		config:        cfg,
	}, nil
}

// encode turns an envelope into a NATS message addressed to subject.
func encode(subject string, msg *domain.Message) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Data = msg.Payload
	for k, v := range msg.Metadata {
		m.Header.Set(k, v)
	}
	m.Header.Set(headerID, msg.ID)
	m.Header.Set(headerTenant, msg.TenantID)
	m.Header.Set(headerTopic, msg.Topic)
	m.Header.Set(headerTimestamp, strconv.FormatInt(msg.Timestamp, 10))
	return m
}

// decode rebuilds the envelope from a received NATS message. A message
// without envelope headers still decodes, with its payload intact.
func decode(m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		Payload:  m.Data,
		Metadata: make(map[string]string),
		ReplyTo:  m.Reply,
	}
	for k, vs := range m.Header {
		if len(vs) == 0 {
			continue
		}
		switch k {
		case headerID:
			msg.ID = vs[0]
		case headerTenant:
			msg.TenantID = vs[0]
		case headerTopic:
			msg.Topic = vs[0]
		case headerTimestamp:
			msg.Timestamp, _ = strconv.ParseInt(vs[0], 10, 64)
		default:
			if !strings.HasPrefix(k, headerPrefix) {
				msg.Metadata[k] = vs[0]
			}
		}
	}
	return msg
}

// Publish sends a message to the tenant's subject.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	msg := newMessage(ctx, tenantID, topic, payload)
	if err := b.conn.PublishMsg(encode(Subject(tenantID, topic), msg)); err != nil {
		metrics.BusMessages.WithLabelValues(topic, "dropped").Inc()
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	metrics.BusMessages.WithLabelValues(topic, "published").Inc()
	return nil
}

// Subscribe registers a handler for the tenant's subject. With a queue
// group configured, each message goes to one member of the group.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	subject := Subject(tenantID, topic)
	cb := func(m *nats.Msg) {
		msg := decode(m)
		if msg.Topic == "" {
			msg.Topic = topic
		}
		if msg.TenantID == "" {
			msg.TenantID = tenantID
		}

		if err := handler(messageContext(ctx, msg), msg); err != nil {
			metrics.BusMessages.WithLabelValues(topic, "failed").Inc()
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
			return
		}
		metrics.BusMessages.WithLabelValues(topic, "handled").Inc()
	}

	var natsSub *nats.Subscription
	var err error
	if b.config.NATSQueueGroup != "" {
		natsSub, err = b.conn.QueueSubscribe(subject, b.config.NATSQueueGroup, cb)
	} else {
		natsSub, err = b.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	sub := &natsSubscription{
		id:    uuid.New().String(),
		topic: topic,
		sub:   natsSub,
		bus:   b,
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Request sends a message on the tenant's subject and waits for the
// reply on a NATS inbox.
func (b *NATSBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	msg := newMessage(ctx, tenantID, topic, payload)
	reply, err := b.conn.RequestMsgWithContext(ctx, encode(Subject(tenantID, topic), msg))
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", topic, err)
	}
	return reply.Data, nil
}

func (b *NATSBus) respond(ctx context.Context, msg *domain.Message, payload []byte) error {
	reply := newMessage(ctx, msg.TenantID, msg.Topic, payload)
	if err := b.conn.PublishMsg(encode(msg.ReplyTo, reply)); err != nil {
		return fmt.Errorf("failed to reply to %s: %w", msg.ID, err)
	}
	return nil
}

// Ping checks NATS connectivity.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected (status %s)", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close unsubscribes everything and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscriptions {
		_ = sub.sub.Unsubscribe()
	}
	b.subscriptions = make(map[string]*natsSubscription)

	b.conn.Close()
	return nil
}

// Subject builds the tenant-scoped NATS subject for a topic.
func Subject(tenantID, topic string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, tenantID, topic)
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
