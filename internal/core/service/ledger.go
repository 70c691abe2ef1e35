package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/telbo/device-inventory/internal/core/domain"
	"github.com/telbo/device-inventory/internal/port"
)

var ErrStockNotFound = errors.New("stock item not found")

// Ledger mediates every counter mutation of the stock store. It does no
// locking itself: callers must hold the (device, color) lease for the full
// read-modify-write span. Each mutation commits in the same transaction as
// the reservation write that caused it, so the counters can never drift
// from the lifecycle records. Low-stock transitions are emitted on a
// buffered channel drained by the LowStockMonitor; the channel never blocks
// a lock holder.
type Ledger struct {
	stocks port.StockRepository
	tx     port.ReservationTx
	events chan domain.LowStockAlert
}

func NewLedger(stocks port.StockRepository, tx port.ReservationTx, eventBuffer int) *Ledger {
	return &Ledger{
		stocks: stocks,
		tx:     tx,
		events: make(chan domain.LowStockAlert, eventBuffer),
	}
}

// GetAvailable retrieves one variant's ledger row.
func (l *Ledger) GetAvailable(ctx context.Context, ref domain.StockRef) (*domain.StockItem, error) {
	item, err := l.stocks.GetStock(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("get stock %s: %w", ref, err)
	}
	if item == nil {
		return nil, ErrStockNotFound
	}
	return item, nil
}

// ListByDevice returns all variant rows of one device.
func (l *Ledger) ListByDevice(ctx context.Context, deviceID string) ([]domain.StockItem, error) {
	items, err := l.stocks.ListStockByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list stock for %s: %w", deviceID, err)
	}
	return items, nil
}

// Reserve moves the reservation's quantity from available to reserved and
// persists the new record in the same transaction. Fails without mutation
// when available stock does not cover the request.
func (l *Ledger) Reserve(ctx context.Context, r domain.Reservation) error {
	item, err := l.GetAvailable(ctx, r.Ref)
	if err != nil {
		return err
	}
	if err := item.Reserve(r.Quantity); err != nil {
		return err
	}
	if err := l.tx.CreateReservation(ctx, *item, r); err != nil {
		return fmt.Errorf("create reservation %s: %w", r.ID, err)
	}
	l.observe(*item)
	return nil
}

// Confirm moves the reservation's quantity from reserved to allocated and
// marks it ALLOCATED in the same transaction.
func (l *Ledger) Confirm(ctx context.Context, r *domain.Reservation) error {
	item, err := l.GetAvailable(ctx, r.Ref)
	if err != nil {
		return err
	}
	if err := item.Confirm(r.Quantity); err != nil {
		return err
	}
	if err := l.tx.FinalizeReservation(ctx, *item, r.ID, domain.ReservationStatusAllocated); err != nil {
		return fmt.Errorf("finalize reservation %s: %w", r.ID, err)
	}
	l.observe(*item)
	return nil
}

// Release moves the reservation's quantity back to available and marks it
// with the given terminal status in the same transaction. A failed commit
// changes neither row, so a later retry releases the quantity exactly once.
func (l *Ledger) Release(ctx context.Context, r *domain.Reservation, to domain.ReservationStatus) error {
	item, err := l.GetAvailable(ctx, r.Ref)
	if err != nil {
		return err
	}
	if err := item.Release(r.Quantity, domain.ReservationStatusReserved); err != nil {
		return err
	}
	if err := l.tx.FinalizeReservation(ctx, *item, r.ID, to); err != nil {
		return fmt.Errorf("finalize reservation %s: %w", r.ID, err)
	}
	l.observe(*item)
	return nil
}

func (l *Ledger) observe(item domain.StockItem) {
	if !item.LowStock() {
		return
	}
	alert := domain.NewLowStockAlert(item)
	select {
	case l.events <- alert:
	default:
		// Dropping is acceptable: the monitor's periodic scan re-raises
		// any threshold breach that is still current.
		log.Warn().Str("component", "ledger").
			Str("device_id", alert.DeviceID).
			Msg("low-stock event buffer full, dropping event")
	}
}

// Events exposes the low-stock event stream.
func (l *Ledger) Events() <-chan domain.LowStockAlert {
	return l.events
}

// Close closes the event stream. Call only after all writers stopped.
func (l *Ledger) Close() {
	close(l.events)
}
