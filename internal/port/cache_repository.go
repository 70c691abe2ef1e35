package port

import (
	"context"

	"github.com/telbo/device-inventory/internal/core/domain"
)

// IdempotencyStore deduplicates checkout requests before any lock or
// ledger access happens.
type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists.
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// DeleteIdempotency removes a key so the request id can be retried
	// after a create that claimed it failed.
	DeleteIdempotency(ctx context.Context, key string) error
}

// AlertPublisher hands low-stock alerts to the external monitoring system.
type AlertPublisher interface {
	PublishLowStock(ctx context.Context, alert domain.LowStockAlert) error
}
