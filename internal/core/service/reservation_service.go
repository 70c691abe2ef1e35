package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/telbo/device-inventory/internal/core/domain"
	"github.com/telbo/device-inventory/internal/metrics"
	"github.com/telbo/device-inventory/internal/port"
)

var (
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrAlreadyTerminal     = errors.New("reservation already terminal")
)

const idempotencyKeyPrefix = "inventory:request:"

// ReservationService orchestrates the reservation lifecycle. It is the
// only writer of the stock ledger counters; every read-modify-write runs
// inside the (device, color) lease so that instances sharing the store
// never interleave on one row.
type ReservationService struct {
	locks        port.LockRepository
	ledger       *Ledger
	reservations port.ReservationRepository
	idempotency  port.IdempotencyStore
	defaultTTL   time.Duration
}

func NewReservationService(
	locks port.LockRepository,
	ledger *Ledger,
	reservations port.ReservationRepository,
	idempotency port.IdempotencyStore,
	defaultTTL time.Duration,
) *ReservationService {
	if defaultTTL <= 0 {
		defaultTTL = domain.DefaultReservationTTL
	}
	return &ReservationService{
		locks:        locks,
		ledger:       ledger,
		reservations: reservations,
		idempotency:  idempotency,
		defaultTTL:   defaultTTL,
	}
}

// CreateParams carries the checkout request for a new reservation.
// RequestID and CustomerID are optional; a zero TTL means the default
// lifetime, and a TTL longer than the default is clamped to it.
type CreateParams struct {
	RequestID  string
	DeviceID   string
	Color      string
	Storage    string
	Quantity   int
	CustomerID string
	TTL        time.Duration
}

// CreateReservation holds Quantity units of the requested variant until
// the caller confirms, cancels, or the deadline passes.
func (s *ReservationService) CreateReservation(ctx context.Context, p CreateParams) (*domain.Reservation, error) {
	if p.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	if p.RequestID != "" && s.idempotency != nil {
		ok, err := s.idempotency.SetIdempotency(ctx, idempotencyKeyPrefix+p.RequestID)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, ErrDuplicateRequest
		}
	}

	ttl := p.TTL
	if ttl <= 0 || ttl > s.defaultTTL {
		ttl = s.defaultTTL
	}

	ref := domain.StockRef{DeviceID: p.DeviceID, Color: p.Color, Storage: p.Storage}

	var res *domain.Reservation
	err := s.withLock(ctx, ref, func(ctx context.Context) error {
		now := time.Now().UTC()
		r := domain.Reservation{
			ID:         uuid.NewString(),
			Ref:        ref,
			CustomerID: p.CustomerID,
			Quantity:   p.Quantity,
			Status:     domain.ReservationStatusReserved,
			ExpiresAt:  now.Add(ttl),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		// Counter update and record insert commit in one transaction; a
		// failure leaves the ledger untouched.
		if err := s.ledger.Reserve(ctx, r); err != nil {
			return err
		}
		res = &r
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			metrics.InsufficientStock.Inc()
		}
		// The create claimed the request id but produced nothing; free it
		// so a retry with the same id is not mistaken for a duplicate.
		s.releaseRequestID(p.RequestID)
		return nil, err
	}

	metrics.ReservationsCreated.Inc()
	log.Info().Str("reservation_id", res.ID).Str("stock", ref.String()).
		Int("quantity", p.Quantity).Time("expires_at", res.ExpiresAt).
		Msg("reservation created")
	return res, nil
}

// ConfirmReservation transitions a RESERVED reservation to ALLOCATED after
// successful payment. A reservation whose deadline already passed is
// expired in place and reported as terminal; the sweeper later observes a
// terminal record and does nothing.
func (s *ReservationService) ConfirmReservation(ctx context.Context, id string) error {
	res, err := s.loadReservation(ctx, id)
	if err != nil {
		return err
	}

	err = s.withLock(ctx, res.Ref, func(ctx context.Context) error {
		cur, err := s.loadReservation(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		if cur.ExpiredBy(time.Now().UTC()) {
			if err := s.expireLocked(ctx, cur); err != nil {
				return err
			}
			return ErrAlreadyTerminal
		}
		return s.ledger.Confirm(ctx, cur)
	})
	if err != nil {
		return err
	}

	metrics.ReservationsConfirmed.Inc()
	log.Info().Str("reservation_id", id).Msg("reservation confirmed")
	return nil
}

// CancelReservation releases a RESERVED reservation's units back to
// available, on payment failure or customer abandonment.
func (s *ReservationService) CancelReservation(ctx context.Context, id string) error {
	res, err := s.loadReservation(ctx, id)
	if err != nil {
		return err
	}

	err = s.withLock(ctx, res.Ref, func(ctx context.Context) error {
		cur, err := s.loadReservation(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		return s.ledger.Release(ctx, cur, domain.ReservationStatusCancelled)
	})
	if err != nil {
		return err
	}

	metrics.ReservationsCancelled.Inc()
	log.Info().Str("reservation_id", id).Msg("reservation cancelled")
	return nil
}

// ExpireReservation reclaims one past-deadline reservation. Invoked only
// by the expiry sweeper, under the same lock discipline as confirm and
// cancel. Idempotent: an unknown, terminal, or not-yet-expired reservation
// is a no-op because the sweeper may race a concurrent confirm or cancel.
func (s *ReservationService) ExpireReservation(ctx context.Context, id string) error {
	res, err := s.loadReservation(ctx, id)
	if errors.Is(err, ErrReservationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if res.Status.Terminal() {
		return nil
	}

	return s.withLock(ctx, res.Ref, func(ctx context.Context) error {
		cur, err := s.loadReservation(ctx, id)
		if errors.Is(err, ErrReservationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Status.Terminal() || !cur.ExpiredBy(time.Now().UTC()) {
			return nil
		}
		return s.expireLocked(ctx, cur)
	})
}

// expireLocked releases the held units and marks the reservation EXPIRED in
// one transaction. Caller holds the lease and has verified the reservation
// is RESERVED. A failed commit changes nothing, so the sweeper's next-cycle
// retry releases the quantity exactly once.
func (s *ReservationService) expireLocked(ctx context.Context, res *domain.Reservation) error {
	if err := s.ledger.Release(ctx, res, domain.ReservationStatusExpired); err != nil {
		return err
	}
	metrics.ReservationsExpired.Inc()
	log.Info().Str("reservation_id", res.ID).Str("stock", res.Ref.String()).
		Int("quantity", res.Quantity).Msg("reservation expired")
	return nil
}

// GetAvailability returns the per-variant availability of one device.
// Read-only, so it takes no lease.
func (s *ReservationService) GetAvailability(ctx context.Context, deviceID string) ([]domain.Availability, error) {
	items, err := s.ledger.ListByDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Availability, 0, len(items))
	for _, item := range items {
		out = append(out, domain.Availability{
			Color:             item.Ref.Color,
			Storage:           item.Ref.Storage,
			AvailableQuantity: item.Available,
			InStock:           item.Available > 0,
		})
	}
	return out, nil
}

func (s *ReservationService) loadReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	res, err := s.reservations.GetReservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}
	if res == nil {
		return nil, ErrReservationNotFound
	}
	return res, nil
}

// releaseRequestID frees a claimed request id after a failed create. Best
// effort on a fresh context: the caller's may already be cancelled, and a
// leftover key only costs the client one spurious DuplicateRequest until
// the key's TTL runs out.
func (s *ReservationService) releaseRequestID(requestID string) {
	if requestID == "" || s.idempotency == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.idempotency.DeleteIdempotency(ctx, idempotencyKeyPrefix+requestID); err != nil {
		log.Warn().Err(err).Str("request_id", requestID).
			Msg("releasing request id after failed create failed")
	}
}

func (s *ReservationService) withLock(ctx context.Context, ref domain.StockRef, fn func(ctx context.Context) error) error {
	err := s.locks.WithLock(ctx, ref.LockKey(), fn)
	if errors.Is(err, port.ErrLockTimeout) {
		metrics.LockTimeouts.Inc()
	}
	return err
}
