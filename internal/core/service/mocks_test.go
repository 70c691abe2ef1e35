package service

import (
	"context"
	"sync"
	"time"

	"github.com/telbo/device-inventory/internal/core/domain"
)

// In-memory stock store guarded by a mutex; exclusivity of the
// read-modify-write span still comes from the locker under test.
type memStockRepo struct {
	mu    sync.Mutex
	items map[domain.StockRef]domain.StockItem
}

func newMemStockRepo(items ...domain.StockItem) *memStockRepo {
	m := &memStockRepo{items: make(map[domain.StockRef]domain.StockItem)}
	for _, item := range items {
		m.items[item.Ref] = item
	}
	return m
}

func (m *memStockRepo) GetStock(ctx context.Context, ref domain.StockRef) (*domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[ref]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *memStockRepo) ListStockByDevice(ctx context.Context, deviceID string) ([]domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StockItem
	for _, item := range m.items {
		if item.Ref.DeviceID == deviceID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memStockRepo) ListStock(ctx context.Context) ([]domain.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StockItem, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
	}
	return out, nil
}

func (m *memStockRepo) put(item domain.StockItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.Ref] = item
}

func (m *memStockRepo) snapshot(ref domain.StockRef) domain.StockItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[ref]
}

type memReservationRepo struct {
	mu    sync.Mutex
	items map[string]domain.Reservation
}

func newMemReservationRepo() *memReservationRepo {
	return &memReservationRepo{items: make(map[string]domain.Reservation)}
}

func (m *memReservationRepo) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memReservationRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, r := range m.items {
		if r.Status == domain.ReservationStatusReserved && now.After(r.ExpiresAt) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

func (m *memReservationRepo) put(r domain.Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[r.ID] = r
}

func (m *memReservationRepo) setStatus(id string, status domain.ReservationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	m.items[id] = r
}

func (m *memReservationRepo) status(id string) domain.ReservationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Status
}

// memTx commits a stock update and a reservation write together, like the
// MySQL adapter's transactions: an injected failure leaves both stores
// untouched. failFinalizeOnce entries are consumed on first use, modeling a
// transient write failure that a later retry does not hit.
type memTx struct {
	stocks       *memStockRepo
	reservations *memReservationRepo

	mu               sync.Mutex
	failCreate       error
	failFinalizeOnce map[string]error
}

func newMemTx(stocks *memStockRepo, reservations *memReservationRepo) *memTx {
	return &memTx{
		stocks:           stocks,
		reservations:     reservations,
		failFinalizeOnce: make(map[string]error),
	}
}

func (t *memTx) CreateReservation(ctx context.Context, item domain.StockItem, r domain.Reservation) error {
	t.mu.Lock()
	if t.failCreate != nil {
		err := t.failCreate
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	t.stocks.put(item)
	t.reservations.put(r)
	return nil
}

func (t *memTx) FinalizeReservation(ctx context.Context, item domain.StockItem, id string, status domain.ReservationStatus) error {
	t.mu.Lock()
	if err, ok := t.failFinalizeOnce[id]; ok {
		delete(t.failFinalizeOnce, id)
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	t.stocks.put(item)
	t.reservations.setStatus(id, status)
	return nil
}

func (t *memTx) failFinalize(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failFinalizeOnce[id] = err
}

// keyLocker is an in-process keyed mutex with the LockRepository contract,
// minus lease and wait bounds. Enough to serialize service operations in
// tests.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *keyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// stubLocker fails every acquisition with the given error; fn must never
// run.
type stubLocker struct {
	err error
}

func (l *stubLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.err
}

type memIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{seen: make(map[string]bool)}
}

func (m *memIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memIdempotency) DeleteIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	alerts []domain.LowStockAlert
	err    error
}

func (p *capturePublisher) PublishLowStock(ctx context.Context, alert domain.LowStockAlert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.alerts = append(p.alerts, alert)
	return nil
}

func (p *capturePublisher) published() []domain.LowStockAlert {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.LowStockAlert, len(p.alerts))
	copy(out, p.alerts)
	return out
}
