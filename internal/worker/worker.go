// Package worker scores events consumed from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Scorer is the part of the engine the worker drives.
type Scorer interface {
	Score(ctx context.Context, ev *domain.Event) (*domain.Decision, error)
}

// Worker consumes ingested events, routes each to a shard by subject and
// scores it. Every shard has a single consumer, so events of one subject
// are scored in the order they were published.
type Worker struct {
	bus    domain.EventBus
	scorer Scorer

	shards        []chan *domain.EventMessage
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Shards is the number of ordered queues.
	Shards int

	// QueueSize bounds each shard's queue. A full queue blocks the bus
	// subscription until space frees up.
	QueueSize int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ShardFor maps a subject onto one of n shards.
func ShardFor(subjectID string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(murmur3.Sum32([]byte(subjectID)) % uint32(n))
}

// Start launches the shard consumers and subscribes to ingested events.
func (w *Worker) Start(cfg Config) error {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	w.shards = make([]chan *domain.EventMessage, cfg.Shards)
	for i := range w.shards {
		ch := make(chan *domain.EventMessage, cfg.QueueSize)
		w.shards[i] = ch
		w.wg.Add(1)
		go w.runShard(i, ch)
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicEventIngested, w.handleMessage)
	if err != nil {
		w.cancel()
		w.wg.Wait()
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicEventIngested, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicEventIngested,
		"shards", cfg.Shards,
		"queue_size", cfg.QueueSize,
	)
	return nil
}

// handleMessage decodes a bus message and queues it on its shard.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var em domain.EventMessage
	if err := json.Unmarshal(msg.Payload, &em); err != nil {
		metrics.WorkerDropped.Inc()
		slog.Error("failed to parse event message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if em.ID == "" {
		em.ID = msg.ID
	}

	shard := ShardFor(em.Event.SubjectID, len(w.shards))
	ch := w.shards[shard]
	select {
	case ch <- &em:
		metrics.WorkerQueueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(len(ch)))
		return nil
	case <-w.ctx.Done():
		metrics.WorkerDropped.Inc()
		return w.ctx.Err()
	}
}

func (w *Worker) runShard(i int, ch chan *domain.EventMessage) {
	defer w.wg.Done()
	label := strconv.Itoa(i)
	for {
		select {
		case <-w.ctx.Done():
			return
		case em := <-ch:
			metrics.WorkerQueueDepth.WithLabelValues(label).Set(float64(len(ch)))
			w.process(w.ctx, em)
		}
	}
}

// process scores one event and publishes the outcome. Rejected events are
// published with their error so producers can see them.
func (w *Worker) process(ctx context.Context, em *domain.EventMessage) {
	start := time.Now()
	out := domain.DecisionMessage{
		EventID:   em.ID,
		SubjectID: em.Event.SubjectID,
		Category:  em.Event.Category,
	}

	d, err := w.scorer.Score(ctx, &em.Event)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		metrics.WorkerDropped.Inc()
		out.Error = err.Error()
		slog.Warn("event rejected",
			"event_id", em.ID,
			"user_id", em.Event.SubjectID,
			"category", em.Event.Category,
			"error", err,
		)
	}
	out.Decision = d

	payload, err := json.Marshal(out)
	if err != nil {
		slog.Error("failed to encode decision", "event_id", em.ID, "error", err)
		return
	}
	if err := w.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision",
			"event_id", em.ID,
			"error", err,
		)
	}

	if d != nil {
		slog.Debug("event processed",
			"event_id", em.ID,
			"user_id", em.Event.SubjectID,
			"action", d.Action,
			"risk_score", d.RiskScore,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Stop unsubscribes and waits for the shard consumers to exit. Events still
// queued are abandoned.
func (w *Worker) Stop() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.cancel()
	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Shards            int      `json:"shards"`
	Queued            int      `json:"queued"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	queued := 0
	for _, ch := range w.shards {
		queued += len(ch)
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Shards:            len(w.shards),
		Queued:            queued,
	}
}
