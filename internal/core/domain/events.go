package domain

import "time"

type AlertSeverity string

const (
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// LowStockAlert is the record handed to the external monitoring system
// when a variant's available stock sinks to its alert threshold.
type LowStockAlert struct {
	DeviceID       string        `json:"device_id"`
	Color          string        `json:"color"`
	Storage        string        `json:"storage"`
	CurrentStock   int           `json:"current_stock"`
	AlertThreshold int           `json:"alert_threshold"`
	Severity       AlertSeverity `json:"severity"`
	Timestamp      time.Time     `json:"timestamp"`
}

// NewLowStockAlert builds an alert for the item's current counters.
// Severity is critical once the variant is fully out of available stock.
func NewLowStockAlert(item StockItem) LowStockAlert {
	severity := AlertSeverityWarning
	if item.Available == 0 {
		severity = AlertSeverityCritical
	}
	return LowStockAlert{
		DeviceID:       item.Ref.DeviceID,
		Color:          item.Ref.Color,
		Storage:        item.Ref.Storage,
		CurrentStock:   item.Available,
		AlertThreshold: item.AlertThreshold,
		Severity:       severity,
		Timestamp:      time.Now().UTC(),
	}
}
