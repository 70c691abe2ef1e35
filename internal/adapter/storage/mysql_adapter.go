package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/telbo/device-inventory/internal/core/domain"
)

// MySQLAdapter is the durable store for stock ledger rows and reservation
// records. It implements port.StockRepository, port.ReservationRepository
// and port.ReservationTx. Counter updates carry no optimistic guard on
// purpose: exclusivity comes from the caller's (device, color) lease, the
// store just persists. Every counter write shares a transaction with the
// reservation write that caused it.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) GetStock(ctx context.Context, ref domain.StockRef) (*domain.StockItem, error) {
	var item domain.StockItem
	err := m.db.QueryRowContext(ctx, `
		SELECT device_id, color, storage, total_stock, available_stock,
		       reserved_stock, allocated_stock, alert_threshold, updated_at
		FROM stock_items WHERE device_id = ? AND color = ? AND storage = ?`,
		ref.DeviceID, ref.Color, ref.Storage,
	).Scan(&item.Ref.DeviceID, &item.Ref.Color, &item.Ref.Storage,
		&item.Total, &item.Available, &item.Reserved, &item.Allocated,
		&item.AlertThreshold, &item.LastUpdated)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock item: %w", err)
	}
	return &item, nil
}

func (m *MySQLAdapter) ListStockByDevice(ctx context.Context, deviceID string) ([]domain.StockItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT device_id, color, storage, total_stock, available_stock,
		       reserved_stock, allocated_stock, alert_threshold, updated_at
		FROM stock_items WHERE device_id = ?
		ORDER BY color, storage`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query device stock: %w", err)
	}
	defer rows.Close()
	return scanStockItems(rows)
}

func (m *MySQLAdapter) ListStock(ctx context.Context) ([]domain.StockItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT device_id, color, storage, total_stock, available_stock,
		       reserved_stock, allocated_stock, alert_threshold, updated_at
		FROM stock_items`)
	if err != nil {
		return nil, fmt.Errorf("query stock items: %w", err)
	}
	defer rows.Close()
	return scanStockItems(rows)
}

func scanStockItems(rows *sql.Rows) ([]domain.StockItem, error) {
	var items []domain.StockItem
	for rows.Next() {
		var item domain.StockItem
		if err := rows.Scan(&item.Ref.DeviceID, &item.Ref.Color, &item.Ref.Storage,
			&item.Total, &item.Available, &item.Reserved, &item.Allocated,
			&item.AlertThreshold, &item.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock items: %w", err)
	}
	return items, nil
}

// CreateReservation inserts a new reservation and persists the stock row
// that already accounts for it, in one transaction.
func (m *MySQLAdapter) CreateReservation(ctx context.Context, item domain.StockItem, r domain.Reservation) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateStockTx(ctx, tx, item); err != nil {
			return err
		}
		customerID := sql.NullString{String: r.CustomerID, Valid: r.CustomerID != ""}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reservations
				(id, device_id, color, storage, customer_id, quantity, status, expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Ref.DeviceID, r.Ref.Color, r.Ref.Storage, customerID,
			r.Quantity, r.Status, r.ExpiresAt, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
}

// FinalizeReservation transitions a reservation and persists the stock row
// that released or allocated its units, in one transaction. A failure
// commits neither write, so a retried expiry releases units exactly once.
func (m *MySQLAdapter) FinalizeReservation(ctx context.Context, item domain.StockItem, id string, status domain.ReservationStatus) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateStockTx(ctx, tx, item); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE reservations SET status = ?, updated_at = ? WHERE id = ?`,
			status, time.Now().UTC(), id,
		)
		if err != nil {
			return fmt.Errorf("update reservation status: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return fmt.Errorf("reservation %s does not exist", id)
		}
		return nil
	})
}

func (m *MySQLAdapter) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func updateStockTx(ctx context.Context, tx *sql.Tx, item domain.StockItem) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE stock_items
		SET available_stock = ?, reserved_stock = ?, allocated_stock = ?, updated_at = ?
		WHERE device_id = ? AND color = ? AND storage = ?`,
		item.Available, item.Reserved, item.Allocated, item.LastUpdated,
		item.Ref.DeviceID, item.Ref.Color, item.Ref.Storage,
	)
	if err != nil {
		return fmt.Errorf("update stock item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Counters may be unchanged; verify the row exists at all.
		var one int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM stock_items WHERE device_id = ? AND color = ? AND storage = ?`,
			item.Ref.DeviceID, item.Ref.Color, item.Ref.Storage,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("stock item %s does not exist", item.Ref)
		}
		if err != nil {
			return fmt.Errorf("verify stock item: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	var (
		r          domain.Reservation
		customerID sql.NullString
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, device_id, color, storage, customer_id, quantity, status,
		       expires_at, created_at, updated_at
		FROM reservations WHERE id = ?`, id,
	).Scan(&r.ID, &r.Ref.DeviceID, &r.Ref.Color, &r.Ref.Storage, &customerID,
		&r.Quantity, &r.Status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	r.CustomerID = customerID.String
	return &r, nil
}

func (m *MySQLAdapter) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id FROM reservations
		WHERE status = ? AND expires_at < ?
		ORDER BY expires_at LIMIT ?`,
		domain.ReservationStatusReserved, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired reservations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reservation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired reservations: %w", err)
	}
	return ids, nil
}
