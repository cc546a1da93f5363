package domain

import "context"

// Notifier delivers alerts produced by the case recorder. Delivery is
// asynchronous from the reviewer's point of view; the engine never waits
// on a human.
type Notifier interface {
	NotifyReviewers(ctx context.Context, c *DetectionCase) error

	// NotifyUser must only ever carry generic copy, never indicators.
	NotifyUser(ctx context.Context, userID, message string) error

	NotifyOperations(ctx context.Context, alert *OperationalAlert) error
}
