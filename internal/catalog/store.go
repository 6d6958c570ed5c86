package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Getter is the read contract the cart engine depends on.
type Getter interface {
	Get(ctx context.Context, id uuid.UUID) (Product, error)
}

// Store reads products from Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

const productColumns = `id, title, slug, category_code, price_lists, prices, legacy_price`

// Get loads a single product by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Product, error) {
	if s == nil || s.Pool == nil {
		return Product{}, errors.New("catalog store not configured")
	}
	row := s.Pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p          Product
		priceLists []byte
		prices     []byte
	)
	err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.CategoryCode, &priceLists, &prices, &p.LegacyPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("scan product: %w", err)
	}
	if len(priceLists) > 0 {
		if err := json.Unmarshal(priceLists, &p.PriceLists); err != nil {
			return Product{}, fmt.Errorf("decode price lists: %w", err)
		}
	}
	if len(prices) > 0 {
		if err := json.Unmarshal(prices, &p.Prices); err != nil {
			return Product{}, fmt.Errorf("decode prices: %w", err)
		}
	}
	return p, nil
}
