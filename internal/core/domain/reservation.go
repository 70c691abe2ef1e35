package domain

import "time"

type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "RESERVED"
	ReservationStatusAllocated ReservationStatus = "ALLOCATED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationStatusAllocated, ReservationStatusCancelled, ReservationStatusExpired:
		return true
	}
	return false
}

// DefaultReservationTTL is the lifetime of a reservation when the caller
// does not ask for a shorter one.
const DefaultReservationTTL = 7 * 24 * time.Hour

// Reservation is an exclusive hold on stock while a customer completes
// checkout. It starts RESERVED and ends in exactly one of ALLOCATED,
// CANCELLED or EXPIRED.
type Reservation struct {
	ID         string
	Ref        StockRef
	CustomerID string
	Quantity   int
	Status     ReservationStatus
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ExpiredBy reports whether the reservation deadline has passed at now.
func (r *Reservation) ExpiredBy(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
