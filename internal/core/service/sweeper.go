package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telbo/device-inventory/internal/metrics"
	"github.com/telbo/device-inventory/internal/port"
)

// SweeperConfig holds timing parameters for the expiry sweeper. The
// interval is a deployment parameter, not a correctness one: a reservation
// missed in one cycle is reclaimed in a later one.
type SweeperConfig struct {
	Interval     time.Duration
	BatchSize    int
	CycleTimeout time.Duration
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:     5 * time.Minute,
		BatchSize:    500,
		CycleTimeout: time.Minute,
	}
}

// Sweeper periodically finds RESERVED reservations past their deadline and
// releases their units back to available. It is the sole source of EXPIRED
// transitions and uses the same per-key lock discipline as the regular
// lifecycle operations, so it cannot race an in-flight confirm or cancel.
type Sweeper struct {
	service      *ReservationService
	reservations port.ReservationRepository
	config       SweeperConfig
	stopCh       chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
}

func NewSweeper(service *ReservationService, reservations port.ReservationRepository, config SweeperConfig) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = time.Minute
	}
	return &Sweeper{
		service:      service,
		reservations: reservations,
		config:       config,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	log.Info().Str("component", "sweeper").
		Dur("interval", s.config.Interval).Int("batch_size", s.config.BatchSize).
		Msg("expiry sweeper started")

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.config.CycleTimeout)
				s.Sweep(ctx)
				cancel()
			case <-s.stopCh:
				log.Info().Str("component", "sweeper").Msg("expiry sweeper stopped")
				return
			}
		}
	}()
}

// Sweep runs one cycle and returns how many reservations were expired and
// how many attempts failed. Failures are independent per reservation: a
// lock timeout on one must not abort the batch, it is logged and retried
// next cycle.
func (s *Sweeper) Sweep(ctx context.Context) (expired, failed int) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	ids, err := s.reservations.ListExpired(ctx, time.Now().UTC(), s.config.BatchSize)
	if err != nil {
		log.Error().Err(err).Str("component", "sweeper").Msg("listing expired reservations failed")
		return 0, 0
	}

	for _, id := range ids {
		if err := s.service.ExpireReservation(ctx, id); err != nil {
			failed++
			log.Warn().Err(err).Str("component", "sweeper").Str("reservation_id", id).
				Msg("expiry failed, will retry next cycle")
			continue
		}
		expired++
	}

	if expired > 0 || failed > 0 {
		log.Info().Str("component", "sweeper").
			Int("expired", expired).Int("failed", failed).
			Dur("took", time.Since(start)).Msg("sweep cycle finished")
	}
	return expired, failed
}

// Stop halts the loop and waits for the in-flight cycle to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.done
	})
}
