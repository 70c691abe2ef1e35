// Package metrics registers the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reservations_created_total",
		Help: "Reservations successfully created.",
	})

	ReservationsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reservations_confirmed_total",
		Help: "Reservations confirmed into allocated stock.",
	})

	ReservationsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reservations_cancelled_total",
		Help: "Reservations cancelled by the caller.",
	})

	ReservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reservations_expired_total",
		Help: "Reservations reclaimed by the expiry sweeper.",
	})

	InsufficientStock = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_insufficient_stock_total",
		Help: "Reservation attempts rejected for lack of available stock.",
	})

	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_lock_timeouts_total",
		Help: "Lock acquisitions that exceeded the bounded wait.",
	})

	LowStockAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_low_stock_alerts_total",
		Help: "Low-stock alerts published to monitoring.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_sweep_duration_seconds",
		Help:    "Duration of one expiry sweep cycle.",
		Buckets: prometheus.DefBuckets,
	})
)
