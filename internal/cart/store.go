package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokamart/cart-api/internal/obs"
)

// ErrNotFound indicates the requested cart could not be located.
var ErrNotFound = errors.New("cart not found")

// ErrVersionConflict is returned when a save loses the optimistic version
// check because another writer advanced the cart first.
var ErrVersionConflict = errors.New("cart version conflict")

// Storage is the persistence contract the cart service depends on.
type Storage interface {
	EnsureActive(ctx context.Context, storeID string, userID uuid.UUID, expiresAt time.Time) (Cart, error)
	Get(ctx context.Context, id uuid.UUID) (Cart, error)
	Save(ctx context.Context, c *Cart) error
}

// Store persists the cart aggregate in Postgres. The aggregate is written as
// a whole: the carts row is updated with a version check and the child tables
// are rewritten inside the same transaction.
type Store struct {
	Pool *pgxpool.Pool
}

// EnsureActive returns the user's active cart for the store, creating one
// lazily on first access.
func (s *Store) EnsureActive(ctx context.Context, storeID string, userID uuid.UUID, expiresAt time.Time) (Cart, error) {
	if err := s.ready(); err != nil {
		return Cart{}, err
	}
	c, err := s.findActive(ctx, storeID, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Cart{}, err
	}
	c = Cart{
		ID:        uuid.New(),
		StoreID:   storeID,
		UserID:    userID,
		Status:    StatusActive,
		Version:   1,
		ExpiresAt: expiresAt,
	}
	_, err = s.Pool.Exec(ctx, `INSERT INTO carts (id, store_id, user_id, status, version, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (store_id, user_id) WHERE status = 'active' DO NOTHING`,
		c.ID, c.StoreID, c.UserID, c.Status, c.Version, c.ExpiresAt)
	if err != nil {
		return Cart{}, fmt.Errorf("create cart: %w", err)
	}
	// A concurrent first access may have won the insert.
	return s.findActive(ctx, storeID, userID)
}

// Get loads the full aggregate by cart id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Cart, error) {
	if err := s.ready(); err != nil {
		return Cart{}, err
	}
	row := s.Pool.QueryRow(ctx, `SELECT id, store_id, user_id, status, version, expires_at, updated_at
		FROM carts WHERE id = $1`, id)
	c, err := scanCart(row)
	if err != nil {
		return Cart{}, err
	}
	if err := s.loadChildren(ctx, &c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// Save writes the aggregate back. The carts row update carries the version
// predicate; losing it means another writer committed since our load and the
// caller must reload and retry.
func (s *Store) Save(ctx context.Context, c *Cart) error {
	if err := s.ready(); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE carts
			SET status = $2, version = version + 1, expires_at = $3, updated_at = now()
			WHERE id = $1 AND version = $4`,
			c.ID, c.Status, c.ExpiresAt, c.Version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, c.ID); err != nil {
			return err
		}
		for _, it := range c.Items {
			if it.ID == uuid.Nil {
				it.ID = uuid.New()
			}
			if _, err := tx.Exec(ctx, `INSERT INTO cart_items
				(id, cart_id, product_id, category_code, title, qty, free_qty, is_free_item, unit_price)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				it.ID, c.ID, it.ProductID, it.CategoryCode, it.Title,
				it.Qty, it.FreeQty, it.IsFreeItem, it.UnitPrice); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM cart_promotions WHERE cart_id = $1`, c.ID); err != nil {
			return err
		}
		for _, ap := range c.Applied {
			if _, err := tx.Exec(ctx, `INSERT INTO cart_promotions
				(cart_id, promotion_id, code, discount, auto_applied, applied_at)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				c.ID, ap.PromotionID, ap.Code, ap.Discount, ap.AutoApplied, ap.AppliedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) && obs.CartSaveConflicts != nil {
			obs.CartSaveConflicts.Inc()
		}
		return err
	}
	c.Version++
	return nil
}

// ExpireStale flips untouched active carts past their retention window to
// expired. Returns the number of carts transitioned.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE carts SET status = $1, updated_at = now()
		WHERE status = $2 AND expires_at < $3`, StatusExpired, StatusActive, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) findActive(ctx context.Context, storeID string, userID uuid.UUID) (Cart, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, store_id, user_id, status, version, expires_at, updated_at
		FROM carts WHERE store_id = $1 AND user_id = $2 AND status = 'active'`, storeID, userID)
	c, err := scanCart(row)
	if err != nil {
		return Cart{}, err
	}
	if err := s.loadChildren(ctx, &c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

func (s *Store) loadChildren(ctx context.Context, c *Cart) error {
	rows, err := s.Pool.Query(ctx, `SELECT id, product_id, category_code, title, qty, free_qty, is_free_item, unit_price
		FROM cart_items WHERE cart_id = $1 ORDER BY created_at`, c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ProductID, &it.CategoryCode, &it.Title,
			&it.Qty, &it.FreeQty, &it.IsFreeItem, &it.UnitPrice); err != nil {
			return err
		}
		c.Items = append(c.Items, it)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	promoRows, err := s.Pool.Query(ctx, `SELECT promotion_id, code, discount, auto_applied, applied_at
		FROM cart_promotions WHERE cart_id = $1 ORDER BY applied_at`, c.ID)
	if err != nil {
		return err
	}
	defer promoRows.Close()
	for promoRows.Next() {
		var ap AppliedPromotion
		if err := promoRows.Scan(&ap.PromotionID, &ap.Code, &ap.Discount, &ap.AutoApplied, &ap.AppliedAt); err != nil {
			return err
		}
		c.Applied = append(c.Applied, ap)
	}
	return promoRows.Err()
}

func (s *Store) ready() error {
	if s == nil || s.Pool == nil {
		return errors.New("cart store not configured")
	}
	return nil
}

func scanCart(row pgx.Row) (Cart, error) {
	var c Cart
	err := row.Scan(&c.ID, &c.StoreID, &c.UserID, &c.Status, &c.Version, &c.ExpiresAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, fmt.Errorf("scan cart: %w", err)
	}
	return c, nil
}
