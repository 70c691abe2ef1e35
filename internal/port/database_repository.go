package port

import (
	"context"
	"time"

	"github.com/telbo/device-inventory/internal/core/domain"
)

// StockRepository is the durable stock ledger's read side. It performs no
// locking of its own: every read-modify-write caller must hold the
// LockRepository lease for the row's (device, color) key. Counter writes go
// through ReservationTx so they commit together with the reservation record
// that justified them.
type StockRepository interface {
	// GetStock retrieves one variant's ledger row, or nil when unknown.
	GetStock(ctx context.Context, ref domain.StockRef) (*domain.StockItem, error)

	// ListStockByDevice returns all variants of one device.
	ListStockByDevice(ctx context.Context, deviceID string) ([]domain.StockItem, error)

	// ListStock returns every ledger row, for the low-stock scan.
	ListStock(ctx context.Context) ([]domain.StockItem, error)
}

// ReservationTx couples a stock counter update with the reservation write
// that caused it. Both rows commit or neither does, so a transient write
// failure can never leave released units behind a still-RESERVED record,
// and a retry never releases the same quantity twice.
type ReservationTx interface {
	// CreateReservation persists a new reservation together with the stock
	// row that already accounts for its held units.
	CreateReservation(ctx context.Context, item domain.StockItem, r domain.Reservation) error

	// FinalizeReservation transitions a reservation to status together with
	// the stock row that released or allocated its units.
	FinalizeReservation(ctx context.Context, item domain.StockItem, id string, status domain.ReservationStatus) error
}

// ReservationRepository reads reservation records.
type ReservationRepository interface {
	// GetReservation retrieves a reservation by id, or nil when unknown.
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)

	// ListExpired returns ids of RESERVED reservations whose deadline lies
	// before now, up to limit.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}
