package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telbo/device-inventory/internal/core/domain"
)

func testReservation(quantity int) domain.Reservation {
	now := time.Now().UTC()
	return domain.Reservation{
		ID:        uuid.NewString(),
		Ref:       testRef,
		Quantity:  quantity,
		Status:    domain.ReservationStatusReserved,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestLedger_GetAvailable_NotFound(t *testing.T) {
	stocks := newMemStockRepo()
	ledger := NewLedger(stocks, newMemTx(stocks, newMemReservationRepo()), 8)

	_, err := ledger.GetAvailable(context.Background(), testRef)
	if !errors.Is(err, ErrStockNotFound) {
		t.Fatalf("expected ErrStockNotFound, got %v", err)
	}
}

func TestLedger_EmitsLowStockEvent(t *testing.T) {
	item := testStock(5)
	item.AlertThreshold = 2
	stocks := newMemStockRepo(item)
	ledger := NewLedger(stocks, newMemTx(stocks, newMemReservationRepo()), 8)

	// 5 -> 3 stays above the threshold: no event.
	if err := ledger.Reserve(context.Background(), testReservation(2)); err != nil {
		t.Fatal(err)
	}
	select {
	case alert := <-ledger.Events():
		t.Fatalf("unexpected event: %+v", alert)
	default:
	}

	// 3 -> 1 crosses it.
	if err := ledger.Reserve(context.Background(), testReservation(2)); err != nil {
		t.Fatal(err)
	}
	select {
	case alert := <-ledger.Events():
		if alert.CurrentStock != 1 || alert.Severity != domain.AlertSeverityWarning {
			t.Errorf("unexpected alert: %+v", alert)
		}
	default:
		t.Fatal("expected a low-stock event")
	}

	// 1 -> 0 is critical.
	if err := ledger.Reserve(context.Background(), testReservation(1)); err != nil {
		t.Fatal(err)
	}
	select {
	case alert := <-ledger.Events():
		if alert.CurrentStock != 0 || alert.Severity != domain.AlertSeverityCritical {
			t.Errorf("unexpected alert: %+v", alert)
		}
	default:
		t.Fatal("expected a critical low-stock event")
	}
}

func TestLedger_FullBufferDoesNotBlock(t *testing.T) {
	item := testStock(10)
	item.AlertThreshold = 100 // every mutation breaches
	stocks := newMemStockRepo(item)
	ledger := NewLedger(stocks, newMemTx(stocks, newMemReservationRepo()), 1)

	// Second emit finds the buffer full and must drop, not block.
	for i := 0; i < 3; i++ {
		if err := ledger.Reserve(context.Background(), testReservation(1)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLedger_FailedCommitLeavesCountersUntouched(t *testing.T) {
	stocks := newMemStockRepo(testStock(10))
	reservations := newMemReservationRepo()
	tx := newMemTx(stocks, reservations)
	tx.failCreate = errors.New("commit failed")
	ledger := NewLedger(stocks, tx, 8)

	r := testReservation(4)
	if err := ledger.Reserve(context.Background(), r); err == nil {
		t.Fatal("expected error")
	}

	item := stocks.snapshot(testRef)
	if item.Available != 10 || item.Reserved != 0 {
		t.Errorf("counters mutated on failed commit: available=%d reserved=%d", item.Available, item.Reserved)
	}
	if got, _ := reservations.GetReservation(context.Background(), r.ID); got != nil {
		t.Error("reservation persisted despite failed commit")
	}
}

func TestLedger_ListByDevice(t *testing.T) {
	other := domain.StockItem{
		Ref:       domain.StockRef{DeviceID: "d2", Color: "white", Storage: "64GB"},
		Total:     3,
		Available: 3,
	}
	stocks := newMemStockRepo(testStock(10), other)
	ledger := NewLedger(stocks, newMemTx(stocks, newMemReservationRepo()), 8)

	items, err := ledger.ListByDevice(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Ref != testRef {
		t.Errorf("unexpected rows: %+v", items)
	}
}
