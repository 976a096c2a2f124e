package order

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[int64]Order
	meta   map[int64]map[string]string
	notes  map[int64][]string
}

// NewMemoryStore seeds a store with the provided orders.
func NewMemoryStore(orders ...Order) *MemoryStore {
	s := &MemoryStore{
		orders: make(map[int64]Order, len(orders)),
		meta:   make(map[int64]map[string]string),
		notes:  make(map[int64][]string),
	}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id int64) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) FindByReference(ctx context.Context, ref string) (Order, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(ref), 10, 64)
	if err != nil {
		return Order{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id int64, status Status, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	s.orders[id] = o
	s.notes[id] = append(s.notes[id], note)
	return nil
}

func (s *MemoryStore) MarkPaidComplete(_ context.Context, id int64, transactionRef, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = StatusProcessing
	o.TransactionRef = transactionRef
	s.orders[id] = o
	s.notes[id] = append(s.notes[id], note)
	return nil
}

func (s *MemoryStore) SetMetadata(_ context.Context, id int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return ErrNotFound
	}
	m, ok := s.meta[id]
	if !ok {
		m = make(map[string]string)
		s.meta[id] = m
	}
	m[key] = value
	return nil
}

// Metadata returns a stored metadata value, for assertions in tests.
func (s *MemoryStore) Metadata(id int64, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta[id][key]
}

// Notes returns the note trail recorded for an order.
func (s *MemoryStore) Notes(id int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notes[id]...)
}
