// Package idempotency records which orders have already been shipped so a
// redelivered OrderCreated event does no work twice.
package idempotency

import "context"

type Store interface {
	HasProcessed(ctx context.Context, orderID string) (bool, error)
	// MarkProcessed is called only after the downstream event is published.
	MarkProcessed(ctx context.Context, orderID string) error
}
