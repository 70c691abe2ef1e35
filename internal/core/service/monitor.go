package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telbo/device-inventory/internal/core/domain"
	"github.com/telbo/device-inventory/internal/metrics"
	"github.com/telbo/device-inventory/internal/port"
)

// LowStockMonitor forwards the ledger's low-stock events to the external
// monitoring system and rescans the whole ledger on an interval so that a
// dropped event self-heals. It holds no state beyond the comparison and is
// idempotent to re-evaluation.
type LowStockMonitor struct {
	stocks       port.StockRepository
	publisher    port.AlertPublisher
	events       <-chan domain.LowStockAlert
	scanInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func NewLowStockMonitor(
	stocks port.StockRepository,
	publisher port.AlertPublisher,
	events <-chan domain.LowStockAlert,
	scanInterval time.Duration,
) *LowStockMonitor {
	if scanInterval <= 0 {
		scanInterval = 10 * time.Minute
	}
	return &LowStockMonitor{
		stocks:       stocks,
		publisher:    publisher,
		events:       events,
		scanInterval: scanInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the event drain and the periodic scan.
func (m *LowStockMonitor) Start() {
	m.wg.Add(2)

	go func() {
		defer m.wg.Done()
		for {
			select {
			case alert, ok := <-m.events:
				if !ok {
					return
				}
				m.publish(alert)
			case <-m.stopCh:
				return
			}
		}
	}()

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.scanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := m.Scan(ctx); err != nil {
					log.Error().Err(err).Str("component", "low-stock-monitor").Msg("scan failed")
				}
				cancel()
			case <-m.stopCh:
				return
			}
		}
	}()

	log.Info().Str("component", "low-stock-monitor").
		Dur("scan_interval", m.scanInterval).Msg("low-stock monitor started")
}

// Scan walks every ledger row and raises an alert for each variant at or
// below its threshold.
func (m *LowStockMonitor) Scan(ctx context.Context) error {
	items, err := m.stocks.ListStock(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.LowStock() {
			m.publish(domain.NewLowStockAlert(item))
		}
	}
	return nil
}

func (m *LowStockMonitor) publish(alert domain.LowStockAlert) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.publisher.PublishLowStock(ctx, alert); err != nil {
		log.Error().Err(err).Str("component", "low-stock-monitor").
			Str("device_id", alert.DeviceID).Str("color", alert.Color).Str("storage", alert.Storage).
			Msg("publishing low-stock alert failed")
		return
	}
	metrics.LowStockAlerts.Inc()
	log.Warn().Str("component", "low-stock-monitor").
		Str("device_id", alert.DeviceID).Str("color", alert.Color).Str("storage", alert.Storage).
		Int("current_stock", alert.CurrentStock).Int("threshold", alert.AlertThreshold).
		Str("severity", string(alert.Severity)).
		Msg("low stock")
}

// Stop halts both goroutines.
func (m *LowStockMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}
