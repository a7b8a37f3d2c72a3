// Package store keeps the process-lifetime registry of basket definitions
// and their latest pricing snapshots. The registry is deliberately
// volatile: baskets live from creation to process shutdown and are never
// persisted.
package store

import (
	"context"
	"errors"

	"github.com/deltaone/basket-engine/internal/model"
)

// ErrNotFound is returned for operations on an unknown basket id.
var ErrNotFound = errors.New("store: basket not found")

// Store is the registry interface consumed by the HTTP service and the
// broadcast scheduler. Mutations on the same basket id are linearizable;
// List returns a consistent point-in-time snapshot in insertion order.
type Store interface {
	// Create registers a new basket under its pre-assigned id.
	Create(ctx context.Context, b *model.StoredBasket) error

	// Replace atomically swaps both the definition and the cached pricing
	// of an existing basket. ErrNotFound if the id is absent.
	Replace(ctx context.Context, id string, def model.BasketDefinition, pricing model.PricedBasket) (*model.StoredBasket, error)

	// Get retrieves one basket by id.
	Get(ctx context.Context, id string) (*model.StoredBasket, error)

	// List returns all baskets in insertion order of their ids.
	List(ctx context.Context) ([]model.StoredBasket, error)

	// UpdatePricing refreshes only the cached pricing of an existing
	// basket. It never creates a basket and never clears a snapshot, so a
	// failed recompute leaves the last good pricing readable.
	UpdatePricing(ctx context.Context, id string, pricing model.PricedBasket) error
}
