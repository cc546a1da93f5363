package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Envelope headers. The NATS payload is the raw message body.
const (
	headerMessageID = "Kestrel-Message-Id"
	headerTimestamp = "Kestrel-Timestamp"
)

const natsReconnectBuffer = 8 << 20

var errNoTopic = errors.New("topic is required")

// NATSBus implements domain.EventBus over core NATS, one subject per topic.
// It lets several kestrel instances share an event stream.
type NATSBus struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// natsSubscription adapts a *nats.Subscription to domain.Subscription.
type natsSubscription struct {
	id    string
	topic string
	bus   *NATSBus
}

// NewNATSBus connects to cfg.NATSUrl, retrying the initial dial up to
// NATSMaxReconnects times. Later disconnects are handled by the client.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(attempts),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(natsReconnectBuffer),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("nats async error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var (
		conn *nats.Conn
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if conn, err = nats.Connect(url, opts...); err == nil {
			break
		}
		slog.Warn("nats connect failed", "attempt", attempt, "of", attempts, "error", err)
		if attempt < attempts {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	slog.Info("nats connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())
	return &NATSBus{conn: conn, subs: make(map[string]*nats.Subscription)}, nil
}

// Publish sends payload on the subject named by topic.
func (b *NATSBus) Publish(_ context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errNoTopic
	}
	m := nats.NewMsg(topic)
	m.Data = payload
	m.Header.Set(headerMessageID, uuid.NewString())
	m.Header.Set(headerTimestamp, strconv.FormatInt(time.Now().UnixNano(), 10))
	return b.conn.PublishMsg(m)
}

// Subscribe registers handler for topic. NATS invokes a subscription's
// callback serially, so messages from one publisher arrive in order.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, errNoTopic
	}

	ns, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
		msg := fromNATS(m)
		if err := handler(ctx, msg); err != nil {
			slog.Error("bus handler failed", "topic", m.Subject, "message_id", msg.ID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = ns
	b.mu.Unlock()
	return &natsSubscription{id: id, topic: topic, bus: b}, nil
}

// fromNATS rebuilds a domain.Message from a delivered NATS message. Messages
// published without kestrel headers get a fresh ID and the receive time.
func fromNATS(m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		Topic:    m.Subject,
		Payload:  m.Data,
		Metadata: make(map[string]string),
	}
	if m.Header != nil {
		msg.ID = m.Header.Get(headerMessageID)
		msg.Timestamp, _ = strconv.ParseInt(m.Header.Get(headerTimestamp), 10, 64)
		for k := range m.Header {
			if k != headerMessageID && k != headerTimestamp {
				msg.Metadata[k] = m.Header.Get(k)
			}
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixNano()
	}
	return msg
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats not connected: %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drops every subscription and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for id, ns := range b.subs {
		_ = ns.Unsubscribe()
		delete(b.subs, id)
	}
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// Stats exposes the client's traffic counters.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	ns, ok := s.bus.subs[s.id]
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	if !ok {
		return nil
	}
	return ns.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
