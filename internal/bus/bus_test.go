package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/tripwire/internal/domain"
)

// collector gathers payloads delivered to one subscription.
type collector struct {
	ch chan *domain.Message
}

func subscribe(t *testing.T, b domain.EventBus, tenantID, topic string) (*collector, domain.Subscription) {
	t.Helper()
	c := &collector{ch: make(chan *domain.Message, 200)}
	sub, err := b.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		c.ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe %s/%s failed: %v", tenantID, topic, err)
	}
	return c, sub
}

// next waits for one message.
func (c *collector) next(t *testing.T) *domain.Message {
	t.Helper()
	select {
	case msg := <-c.ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

// none asserts nothing arrives within a short grace period.
func (c *collector) none(t *testing.T) {
	t.Helper()
	select {
	case msg := <-c.ch:
		t.Errorf("unexpected message %s on %s", msg.Payload, msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBus(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()
	ctx := context.Background()

	t.Run("Envelope", func(t *testing.T) {
		c, _ := subscribe(t, b, "acme", domain.TopicReport)
		if err := b.Publish(ctx, "acme", domain.TopicReport, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		msg := c.next(t)
		if string(msg.Payload) != "hello" || msg.TenantID != "acme" || msg.Topic != domain.TopicReport {
			t.Errorf("got %+v", msg)
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Error("envelope id and timestamp should be set")
		}
		if msg.ReplyTo != "" {
			t.Errorf("published message has ReplyTo %q", msg.ReplyTo)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		mine, _ := subscribe(t, b, "acme", domain.TopicAlert)
		theirs, _ := subscribe(t, b, "globex", domain.TopicAlert)

		b.Publish(ctx, "acme", domain.TopicAlert, []byte("a1"))
		mine.next(t)
		theirs.none(t)
	})

	t.Run("FanOut", func(t *testing.T) {
		first, _ := subscribe(t, b, "acme", "fan.out")
		second, _ := subscribe(t, b, "acme", "fan.out")

		b.Publish(ctx, "acme", "fan.out", []byte("x"))
		first.next(t)
		second.next(t)
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		c, sub := subscribe(t, b, "acme", "unsub")
		b.Publish(ctx, "acme", "unsub", []byte("1"))
		c.next(t)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		b.Publish(ctx, "acme", "unsub", []byte("2"))
		c.none(t)

		if n := b.subscriberCount("acme", "unsub"); n != 0 {
			t.Errorf("%d subscriptions remain", n)
		}
		if err := sub.Unsubscribe(); err != nil {
			t.Errorf("second unsubscribe failed: %v", err)
		}
		if sub.Topic() != "unsub" {
			t.Errorf("Topic() = %q", sub.Topic())
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		noop := func(context.Context, *domain.Message) error { return nil }
		if err := b.Publish(ctx, "", "x", nil); err == nil {
			t.Error("publish accepted an empty tenant")
		}
		if _, err := b.Subscribe(ctx, "", "x", noop); err == nil {
			t.Error("subscribe accepted an empty tenant")
		}
		if _, err := b.Request(ctx, "", "x", nil); err == nil {
			t.Error("request accepted an empty tenant")
		}
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		var calls atomic.Int32
		done := make(chan struct{}, 2)
		b.Subscribe(ctx, "acme", "flaky", func(ctx context.Context, msg *domain.Message) error {
			defer func() { done <- struct{}{} }()
			if calls.Add(1) == 1 {
				return context.DeadlineExceeded
			}
			return nil
		})
		b.Publish(ctx, "acme", "flaky", nil)
		b.Publish(ctx, "acme", "flaky", nil)
		for range 2 {
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("handler stopped after an error")
			}
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()
	subscribe(t, b, "acme", "closing")

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("ping on open bus failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
	if err := b.Publish(ctx, "acme", "closing", nil); err == nil {
		t.Error("publish succeeded on a closed bus")
	}
	if _, err := b.Subscribe(ctx, "acme", "closing", func(context.Context, *domain.Message) error { return nil }); err == nil {
		t.Error("subscribe succeeded on a closed bus")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("ping succeeded on a closed bus")
	}
}

func TestNewBus(t *testing.T) {
	for _, typ := range []string{"", "channel"} {
		b, err := New(domain.EventBusConfig{Type: typ, ChannelBufferSize: 5})
		if err != nil {
			t.Fatalf("New(%q) failed: %v", typ, err)
		}
		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("New(%q) = %T, want *ChannelBus", typ, b)
		}
		b.Close()
	}
	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}

func TestChannelBusOrdering(t *testing.T) {
	b := NewChannelBus(500)
	defer b.Close()

	c, _ := subscribe(t, b, "acme", "ordered")
	const n = 150
	for i := 0; i < n; i++ {
		b.Publish(context.Background(), "acme", "ordered", []byte{byte(i)})
	}
	for i := 0; i < n; i++ {
		if got := c.next(t).Payload[0]; got != byte(i) {
			t.Fatalf("message %d arrived as %d", i, got)
		}
	}
}

func TestPublishJSON(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	ctx := context.Background()
	got := make(chan domain.ScanRequest, 1)

	_, err := bus.Subscribe(ctx, "tenant-001", domain.TopicScanRequested, func(ctx context.Context, msg *domain.Message) error {
		req, err := Decode[domain.ScanRequest](msg)
		if err != nil {
			return err
		}
		got <- req
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	want := domain.ScanRequest{
		TenantID: "tenant-001",
		UserID:   "u1",
		Since:    time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Until:    time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC),
	}
	if err := PublishJSON(ctx, bus, "tenant-001", domain.TopicScanRequested, want); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	select {
	case req := <-got:
		if req.UserID != want.UserID || !req.Since.Equal(want.Since) || !req.Until.Equal(want.Until) {
			t.Errorf("decoded %+v, want %+v", req, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for scan request")
	}

	if _, err := Decode[domain.ScanRequest](&domain.Message{Topic: "x", Payload: []byte("{")}); err == nil {
		t.Error("expected decode error for truncated payload")
	}
}

func TestTraceContextPropagation(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	bus := NewChannelBus(10)
	defer bus.Close()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	got := make(chan trace.SpanContext, 1)
	_, err := bus.Subscribe(context.Background(), "tenant-001", "traced.topic", func(ctx context.Context, msg *domain.Message) error {
		if msg.Metadata["traceparent"] == "" {
			t.Error("traceparent missing from metadata")
		}
		got <- trace.SpanContextFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(ctx, "tenant-001", "traced.topic", []byte("{}")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case remote := <-got:
		if remote.TraceID() != traceID {
			t.Errorf("trace id = %s, want %s", remote.TraceID(), traceID)
		}
		if !remote.IsRemote() {
			t.Error("extracted span context should be remote")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var handled atomic.Int32

	_, err := bus.Subscribe(ctx, "tenant-001", "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		handled.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// The first message occupies the handler, the second fills the buffer.
	bus.Publish(ctx, "tenant-001", "slow.topic", []byte("1"))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}
	bus.Publish(ctx, "tenant-001", "slow.topic", []byte("2"))
	if err := bus.Publish(ctx, "tenant-001", "slow.topic", []byte("3")); err != nil {
		t.Fatalf("publish to a full subscriber should not fail: %v", err)
	}

	close(release)
	time.Sleep(50 * time.Millisecond)
	if n := handled.Load(); n != 2 {
		t.Errorf("handled %d messages, want 2", n)
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("acme", domain.TopicReport); got != "tripwire.acme.tripwire.report" {
		t.Errorf("Subject = %q", got)
	}
	if got := ReplyTopic("a.b", "123"); got != "a.b.reply.123" {
		t.Errorf("ReplyTopic = %q", got)
	}
}

func TestChannelBusRequestReply(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	ctx := context.Background()
	_, err := b.Subscribe(ctx, "tenant-001", "echo", func(ctx context.Context, msg *domain.Message) error {
		if msg.ReplyTo == "" {
			t.Error("request message has no ReplyTo")
		}
		return Reply(ctx, b, msg, append([]byte("re:"), msg.Payload...))
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	t.Run("Answered", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		got, err := b.Request(reqCtx, "tenant-001", "echo", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(got) != "re:ping" {
			t.Errorf("reply = %q, want re:ping", got)
		}
		if n := b.subscriberCount("tenant-001", "echo"); n != 1 {
			t.Errorf("reply subscription leaked: %d subscribers on echo", n)
		}
	})

	t.Run("Unanswered", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		if _, err := b.Request(reqCtx, "tenant-001", "nobody.home", nil); err == nil {
			t.Error("expected timeout without a responder")
		}
	})

	t.Run("ReplyWithoutReplyTo", func(t *testing.T) {
		if err := Reply(ctx, b, &domain.Message{TenantID: "tenant-001", Topic: "echo"}, []byte("x")); err != nil {
			t.Errorf("reply to a plain message should be a no-op: %v", err)
		}
	})
}
