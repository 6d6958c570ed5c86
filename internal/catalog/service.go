package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service fronts the product store with a read-through Redis cache.
type Service struct {
	Store Getter
	Cache *Cache
}

// Get returns the product, served from cache when possible. Cache failures
// degrade to a direct store read.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Product, error) {
	if s == nil || s.Store == nil {
		return Product{}, ErrNotFound
	}
	key := productKey(id.String())
	var cached Product
	if ok, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}
	product, err := s.Store.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	_ = s.Cache.SetJSON(ctx, key, product)
	return product, nil
}
