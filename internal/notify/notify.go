// Package notify delivers case and operational alerts.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BusNotifier publishes alerts on the event bus for downstream delivery
// (reviewer dashboards, SMS/email gateways, paging).
type BusNotifier struct {
	bus domain.EventBus
}

// NewBusNotifier creates a notifier that publishes to bus.
func NewBusNotifier(bus domain.EventBus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

// NotifyReviewers publishes the full case to the review topic.
func (n *BusNotifier) NotifyReviewers(ctx context.Context, c *domain.DetectionCase) error {
	return n.publish(ctx, domain.TopicAlertReview, c)
}

// NotifyUser publishes the subject facing message to the user topic.
func (n *BusNotifier) NotifyUser(ctx context.Context, userID, message string) error {
	return n.publish(ctx, domain.TopicAlertUser, domain.UserAlert{UserID: userID, Message: message})
}

// NotifyOperations publishes an operational alert to the ops topic.
func (n *BusNotifier) NotifyOperations(ctx context.Context, alert *domain.OperationalAlert) error {
	return n.publish(ctx, domain.TopicAlertOps, alert)
}

func (n *BusNotifier) publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := n.bus.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}

// LogNotifier writes alerts to a structured log. Used when no bus consumer
// is deployed.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs through logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyReviewers(ctx context.Context, c *domain.DetectionCase) error {
	n.logger.InfoContext(ctx, "case awaiting review",
		"case_id", c.ID,
		"subject_id", c.SubjectID,
		"category", c.Category,
		"decision", c.Decision,
		"risk_score", c.RiskScore,
		"indicators", len(c.Indicators),
	)
	return nil
}

func (n *LogNotifier) NotifyUser(ctx context.Context, userID, message string) error {
	n.logger.InfoContext(ctx, "user notified", "user_id", userID, "message", message)
	return nil
}

func (n *LogNotifier) NotifyOperations(ctx context.Context, alert *domain.OperationalAlert) error {
	n.logger.ErrorContext(ctx, "operational alert",
		"kind", alert.Kind,
		"subject_id", alert.SubjectID,
		"category", alert.Category,
		"action", alert.Action,
		"error", alert.Error,
	)
	return nil
}

// Multi fans every alert out to all notifiers and joins their errors.
type Multi []domain.Notifier

func (m Multi) NotifyReviewers(ctx context.Context, c *domain.DetectionCase) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyReviewers(ctx, c))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyUser(ctx context.Context, userID, message string) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyUser(ctx, userID, message))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyOperations(ctx context.Context, alert *domain.OperationalAlert) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyOperations(ctx, alert))
	}
	return errors.Join(errs...)
}

var (
	_ domain.Notifier = (*BusNotifier)(nil)
	_ domain.Notifier = (*LogNotifier)(nil)
	_ domain.Notifier = Multi(nil)
)
