package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deltaone/basket-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map guarded by a single
// RWMutex. Coarse locking is fine here: every operation is map work, the
// lock is never held across pricing or I/O.
type MemoryStore struct {
	mu      sync.RWMutex
	baskets map[string]*model.StoredBasket
	order   []string // basket ids in insertion order
}

// NewMemoryStore creates an empty registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		baskets: make(map[string]*model.StoredBasket),
	}
}

func (s *MemoryStore) Create(_ context.Context, b *model.StoredBasket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.baskets[b.BasketID]; exists {
		return fmt.Errorf("basket %s already exists", b.BasketID)
	}

	now := time.Now().UTC()
	// Store a copy to avoid external mutation.
	stored := *b
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.baskets[b.BasketID] = &stored
	s.order = append(s.order, b.BasketID)
	return nil
}

func (s *MemoryStore) Replace(_ context.Context, id string, def model.BasketDefinition, pricing model.PricedBasket) (*model.StoredBasket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.baskets[id]
	if !ok {
		return nil, ErrNotFound
	}
	b.Definition = def
	b.Pricing = pricing
	b.UpdatedAt = time.Now().UTC()

	stored := *b
	return &stored, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.StoredBasket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.baskets[id]
	if !ok {
		return nil, ErrNotFound
	}
	stored := *b
	return &stored, nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.StoredBasket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.StoredBasket, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.baskets[id])
	}
	return out, nil
}

func (s *MemoryStore) UpdatePricing(_ context.Context, id string, pricing model.PricedBasket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.baskets[id]
	if !ok {
		return ErrNotFound
	}
	b.Pricing = pricing
	b.UpdatedAt = time.Now().UTC()
	return nil
}
