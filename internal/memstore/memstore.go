// Package memstore holds in-memory implementations of the repositories for
// unit tests.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

// clone deep-copies v through JSON so callers never share memory with the
// store.
func clone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

type Products struct {
	mu       sync.Mutex
	products map[string]*domain.Product
}

func NewProducts(products ...domain.Product) *Products {
	s := &Products{products: make(map[string]*domain.Product)}
	for i := range products {
		s.Put(products[i])
	}
	return s
}

func (s *Products) Put(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = clone(&p)
}

func (s *Products) Get(_ context.Context, id string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	return clone(p), nil
}

func (s *Products) List(_ context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, *clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Products) IncrementReserved(_ context.Context, id string, quantity int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	p.ReservedCount += quantity
	p.UpdatedAt = time.Now().UTC()
	return clone(p), nil
}

func (s *Products) ReleaseReserved(_ context.Context, id string, quantity int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	p.ReservedCount = max(p.ReservedCount-quantity, 0)
	p.UpdatedAt = time.Now().UTC()
	return clone(p), nil
}

func (s *Products) SetStock(_ context.Context, id string, stock int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	p.Stock = stock
	p.UpdatedAt = time.Now().UTC()
	return clone(p), nil
}

type Orders struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	byKey  map[string]string
}

func NewOrders() *Orders {
	return &Orders{
		orders: make(map[string]*domain.Order),
		byKey:  make(map[string]string),
	}
}

func (s *Orders) Create(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.IdempotencyKey != "" {
		if _, taken := s.byKey[order.IdempotencyKey]; taken {
			return domain.ErrDuplicateIdempotencyKey
		}
		s.byKey[order.IdempotencyKey] = order.ID
	}
	s.orders[order.ID] = clone(order)
	return nil
}

func (s *Orders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return clone(o), nil
}

func (s *Orders) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	s.mu.Lock()
	id, ok := s.byKey[key]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

func (s *Orders) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.Order{}
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Orders) UpdateState(_ context.Context, id string, state domain.OrderState) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	if o.State != state {
		if !o.State.CanTransition(state) {
			return nil, domain.ErrInvalidTransition
		}
		o.State = state
		o.UpdatedAt = time.Now().UTC()
	}
	return clone(o), nil
}

func (s *Orders) AttachShipment(_ context.Context, orderID, shipmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.ShipmentID = shipmentID
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Orders) AppendAuditRef(_ context.Context, orderID string, ref domain.AuditRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.AuditRefs = append(o.AuditRefs, ref)
	return nil
}

func (s *Orders) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type Shipments struct {
	mu        sync.Mutex
	shipments map[string]*domain.Shipment
}

func NewShipments() *Shipments {
	return &Shipments{shipments: make(map[string]*domain.Shipment)}
}

func (s *Shipments) Create(_ context.Context, shipment *domain.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipments[shipment.TrackingNumber] = clone(shipment)
	return nil
}

func (s *Shipments) GetByTrackingNumber(_ context.Context, trackingNumber string) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shipments[trackingNumber]
	if !ok {
		return nil, nil
	}
	return clone(sh), nil
}

func (s *Shipments) GetByOrderID(_ context.Context, orderID string) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sh := range s.shipments {
		if sh.OrderID == orderID {
			return clone(sh), nil
		}
	}
	return nil, nil
}

func (s *Shipments) Mutate(_ context.Context, trackingNumber string, fn func(*domain.Shipment) error) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shipments[trackingNumber]
	if !ok {
		return nil, nil
	}

	working := clone(sh)
	if err := fn(working); err != nil {
		return nil, err
	}
	s.shipments[trackingNumber] = clone(working)
	return working, nil
}

type AuditLog struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (s *AuditLog) Insert(_ context.Context, entry *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *clone(entry))
	return nil
}

func (s *AuditLog) ListRange(_ context.Context, start, end time.Time) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AuditEntry
	for i := range s.entries {
		ts := s.entries[i].Timestamp
		if ts.Before(start) || ts.After(end) {
			continue
		}
		out = append(out, *clone(&s.entries[i]))
	}
	return out, nil
}

func (s *AuditLog) Update(context.Context, *domain.AuditEntry) error {
	return domain.ErrImmutable
}

func (s *AuditLog) Delete(context.Context, string) error {
	return domain.ErrImmutable
}

func (s *AuditLog) All() []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AuditEntry, len(s.entries))
	for i := range s.entries {
		out[i] = *clone(&s.entries[i])
	}
	return out
}

// Tamper rewrites a stored entry behind the ledger's back. It exists so that
// tests can simulate an attacker with direct storage access.
func (s *AuditLog) Tamper(id string, fn func(*domain.AuditEntry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].ID == id {
			fn(&s.entries[i])
			return true
		}
	}
	return false
}
