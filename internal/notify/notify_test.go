package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type recordingBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
}

func (b *recordingBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = make(map[string][][]byte)
	}
	b.messages[topic] = append(b.messages[topic], payload)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) Ping(ctx context.Context) error { return nil }
func (b *recordingBus) Close() error                   { return nil }

func TestBusNotifier(t *testing.T) {
	bus := &recordingBus{}
	n := NewBusNotifier(bus)
	ctx := context.Background()

	c := &domain.DetectionCase{
		ID:         "case-1",
		SubjectID:  "u1",
		Decision:   domain.ActionManualReview,
		Indicators: []domain.Indicator{{Name: domain.IndicatorGeoCountrySwitch, Score: 0.6}},
	}

	t.Run("Reviewers", func(t *testing.T) {
		if err := n.NotifyReviewers(ctx, c); err != nil {
			t.Fatalf("NotifyReviewers failed: %v", err)
		}
		msgs := bus.messages[domain.TopicAlertReview]
		if len(msgs) != 1 {
			t.Fatalf("expected 1 review alert, got %d", len(msgs))
		}
		var got domain.DetectionCase
		if err := json.Unmarshal(msgs[0], &got); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if got.ID != "case-1" || len(got.Indicators) != 1 {
			t.Errorf("unexpected case payload %+v", got)
		}
	})

	t.Run("User", func(t *testing.T) {
		if err := n.NotifyUser(ctx, "u1", domain.UserVerificationMessage); err != nil {
			t.Fatalf("NotifyUser failed: %v", err)
		}
		msgs := bus.messages[domain.TopicAlertUser]
		if len(msgs) != 1 {
			t.Fatalf("expected 1 user alert, got %d", len(msgs))
		}
		if strings.Contains(string(msgs[0]), "indicator") {
			t.Error("user alerts must not carry indicators")
		}
		var got domain.UserAlert
		_ = json.Unmarshal(msgs[0], &got)
		if got.UserID != "u1" || got.Message != domain.UserVerificationMessage {
			t.Errorf("unexpected user alert %+v", got)
		}
	})

	t.Run("Operations", func(t *testing.T) {
		alert := &domain.OperationalAlert{Kind: domain.AlertCasePersistFailed, SubjectID: "u1", Error: "db down"}
		if err := n.NotifyOperations(ctx, alert); err != nil {
			t.Fatalf("NotifyOperations failed: %v", err)
		}
		if len(bus.messages[domain.TopicAlertOps]) != 1 {
			t.Error("expected 1 ops alert")
		}
	})

	t.Run("PublishFailure", func(t *testing.T) {
		failing := NewBusNotifier(&recordingBus{err: errors.New("bus is closed")})
		if err := failing.NotifyUser(ctx, "u1", "x"); err == nil {
			t.Error("expected publish error")
		}
	})
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := context.Background()

	_ = n.NotifyReviewers(ctx, &domain.DetectionCase{ID: "case-9", SubjectID: "u9"})
	_ = n.NotifyOperations(ctx, &domain.OperationalAlert{Kind: domain.AlertCasePersistFailed, Error: "timeout"})

	out := buf.String()
	if !strings.Contains(out, `"case_id":"case-9"`) {
		t.Errorf("expected case id in log, got %s", out)
	}
	if !strings.Contains(out, `"kind":"case_persist_failed"`) {
		t.Errorf("expected alert kind in log, got %s", out)
	}
}

func TestMulti(t *testing.T) {
	ok := &recordingBus{}
	bad := &recordingBus{err: errors.New("down")}
	m := Multi{NewBusNotifier(ok), NewBusNotifier(bad)}

	err := m.NotifyUser(context.Background(), "u1", domain.UserVerificationMessage)
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(ok.messages[domain.TopicAlertUser]) != 1 {
		t.Error("a failing notifier must not stop the others")
	}
}
