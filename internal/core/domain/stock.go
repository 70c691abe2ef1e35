package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid stock state")
)

// StockRef identifies one sellable variant of a device.
type StockRef struct {
	DeviceID string
	Color    string
	Storage  string
}

func (r StockRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.DeviceID, r.Color, r.Storage)
}

// LockKey returns the exclusion key for this variant. Granularity is
// device+color, not device+color+storage, so that operations touching
// several storage variants of the same color serialize.
func (r StockRef) LockKey() string {
	return fmt.Sprintf("inventory:lock:%s:%s", r.DeviceID, r.Color)
}

// StockItem is one row of the stock ledger. Counters obey
// Total == Available + Reserved + Allocated between lock releases; the
// mutators below preserve it and callers must not touch the counters
// directly.
type StockItem struct {
	Ref            StockRef
	Total          int
	Available      int
	Reserved       int
	Allocated      int
	AlertThreshold int
	LastUpdated    time.Time
}

// Reserve moves quantity from available to reserved. It fails without
// mutation when available stock does not cover the request.
func (s *StockItem) Reserve(quantity int) error {
	if s.Available < quantity {
		return ErrInsufficientStock
	}
	s.Available -= quantity
	s.Reserved += quantity
	s.LastUpdated = time.Now().UTC()
	return nil
}

// Confirm moves quantity from reserved to allocated.
func (s *StockItem) Confirm(quantity int) error {
	if s.Reserved < quantity {
		return fmt.Errorf("%w: reserved %d < confirm %d for %s", ErrInvalidState, s.Reserved, quantity, s.Ref)
	}
	s.Reserved -= quantity
	s.Allocated += quantity
	s.LastUpdated = time.Now().UTC()
	return nil
}

// Release moves quantity back to available from the given bucket. Used by
// cancellation, expiry and refund flows.
func (s *StockItem) Release(quantity int, from ReservationStatus) error {
	switch from {
	case ReservationStatusReserved:
		if s.Reserved < quantity {
			return fmt.Errorf("%w: reserved %d < release %d for %s", ErrInvalidState, s.Reserved, quantity, s.Ref)
		}
		s.Reserved -= quantity
	case ReservationStatusAllocated:
		if s.Allocated < quantity {
			return fmt.Errorf("%w: allocated %d < release %d for %s", ErrInvalidState, s.Allocated, quantity, s.Ref)
		}
		s.Allocated -= quantity
	default:
		return fmt.Errorf("%w: cannot release from %s", ErrInvalidState, from)
	}
	s.Available += quantity
	s.LastUpdated = time.Now().UTC()
	return nil
}

// LowStock reports whether the available count is at or below the alert
// threshold.
func (s *StockItem) LowStock() bool {
	return s.Available <= s.AlertThreshold
}

// Availability is the read-model row returned to checkout callers.
type Availability struct {
	Color             string `json:"color"`
	Storage           string `json:"storage"`
	AvailableQuantity int    `json:"available_quantity"`
	InStock           bool   `json:"in_stock"`
}
