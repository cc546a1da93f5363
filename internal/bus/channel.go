package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

var errBusClosed = errors.New("bus is closed")

// ChannelBus is the single process domain.EventBus. Each subscription owns a
// buffered queue drained by one goroutine, so a subscriber sees messages in
// publish order.
type ChannelBus struct {
	bufferSize int

	mu     sync.RWMutex
	topics map[string][]*channelSubscription
	closed bool
}

type channelSubscription struct {
	id      string
	topic   string
	handler domain.MessageHandler
	queue   chan *domain.Message
	bus     *ChannelBus

	ctx    context.Context
	cancel context.CancelFunc
}

// NewChannelBus returns a bus whose subscribers buffer up to bufferSize
// messages each.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string][]*channelSubscription),
	}
}

// Publish fans payload out to every subscriber of topic without blocking.
// A subscriber whose queue is full misses the message.
func (b *ChannelBus) Publish(_ context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errNoTopic
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBusClosed
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UnixNano(),
	}
	for _, sub := range b.topics[topic] {
		select {
		case sub.queue <- msg:
		default:
			metrics.BusDropped.WithLabelValues(topic).Inc()
			slog.Warn("subscriber queue full, message dropped", "topic", topic, "subscription_id", sub.id)
		}
	}
	return nil
}

// Subscribe starts delivering topic to handler until the subscription, ctx
// or the bus is closed.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, errNoTopic
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBusClosed
	}

	sub := &channelSubscription{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
		queue:   make(chan *domain.Message, b.bufferSize),
		bus:     b,
	}
	sub.ctx, sub.cancel = context.WithCancel(ctx)
	b.topics[topic] = append(b.topics[topic], sub)

	go sub.deliver()
	return sub, nil
}

// deliver drains the queue. The queue is never closed, cancellation is the
// only stop signal, so Publish can never send on a closed channel.
func (s *channelSubscription) deliver() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("bus handler failed", "topic", s.topic, "message_id", msg.ID, "error", err)
			}
		}
	}
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBusClosed
	}
	return nil
}

// Close cancels every subscription. It is safe to call more than once.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.topics {
		for _, sub := range subs {
			sub.cancel()
		}
		delete(b.topics, topic)
	}
	return nil
}

func (s *channelSubscription) Unsubscribe() error {
	s.cancel()

	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[s.topic]
	for i, sub := range subs {
		if sub != s {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		break
	}
	if len(subs) == 0 {
		delete(b.topics, s.topic)
	} else {
		b.topics[s.topic] = subs
	}
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.topic
}
