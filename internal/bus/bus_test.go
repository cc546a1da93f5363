package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for messages")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var receivedMsg *domain.Message

		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicDecision, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitFor(t, &wg, time.Second)

		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Topic != domain.TopicDecision {
			t.Errorf("expected topic %s, got %s", domain.TopicDecision, receivedMsg.Topic)
		}
		if receivedMsg.ID == "" {
			t.Error("expected message id")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var review, ops atomic.Int32

		bus.Subscribe(ctx, domain.TopicAlertReview, func(ctx context.Context, msg *domain.Message) error {
			review.Add(1)
			return nil
		})
		bus.Subscribe(ctx, domain.TopicAlertOps, func(ctx context.Context, msg *domain.Message) error {
			ops.Add(1)
			return nil
		})

		bus.Publish(ctx, domain.TopicAlertReview, []byte("case"))
		time.Sleep(50 * time.Millisecond)

		if review.Load() != 1 {
			t.Errorf("review topic should receive 1 message, got %d", review.Load())
		}
		if ops.Load() != 0 {
			t.Errorf("ops topic should receive 0 messages, got %d", ops.Load())
		}
	})

	t.Run("RequiresTopic", func(t *testing.T) {
		if err := bus.Publish(ctx, "", []byte("data")); err == nil {
			t.Error("expected error for empty topic")
		}
		_, err := bus.Subscribe(ctx, "", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty topic")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()

		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("PreservesOrder", func(t *testing.T) {
		const n = 50
		var mu sync.Mutex
		var got []string
		var wg sync.WaitGroup
		wg.Add(n)

		bus.Subscribe(ctx, "order.topic", func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			got = append(got, string(msg.Payload))
			mu.Unlock()
			wg.Done()
			return nil
		})

		for i := 0; i < n; i++ {
			bus.Publish(ctx, "order.topic", []byte{byte('a' + i%26), byte('0' + i/26)})
		}
		waitFor(t, &wg, time.Second)

		for i, p := range got {
			want := string([]byte{byte('a' + i%26), byte('0' + i/26)})
			if p != want {
				t.Fatalf("message %d out of order: got %q want %q", i, p, want)
			}
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if _, err := bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestFromNATS(t *testing.T) {
	t.Run("KestrelHeaders", func(t *testing.T) {
		m := nats.NewMsg(domain.TopicEventIngested)
		m.Data = []byte(`{"id":"e1"}`)
		m.Header.Set(headerMessageID, "m-1")
		m.Header.Set(headerTimestamp, "42")
		m.Header.Set("Trace", "abc")

		msg := fromNATS(m)
		if msg.ID != "m-1" || msg.Timestamp != 42 {
			t.Errorf("unexpected id/timestamp: %s %d", msg.ID, msg.Timestamp)
		}
		if msg.Topic != domain.TopicEventIngested || string(msg.Payload) != `{"id":"e1"}` {
			t.Errorf("unexpected message %+v", msg)
		}
		if msg.Metadata["Trace"] != "abc" || len(msg.Metadata) != 1 {
			t.Errorf("unexpected metadata %v", msg.Metadata)
		}
	})

	t.Run("ForeignPublisher", func(t *testing.T) {
		msg := fromNATS(&nats.Msg{Subject: "x", Data: []byte("raw")})
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Errorf("expected generated id and timestamp, got %+v", msg)
		}
	})
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("DefaultBuffer", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if cb := bus.(*ChannelBus); cb.bufferSize != DefaultBufferSize {
			t.Errorf("expected buffer %d, got %d", DefaultBufferSize, cb.bufferSize)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	waitFor(t, &wg, 5*time.Second)
	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
}
