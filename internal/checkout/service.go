package checkout

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lokamart/cart-api/internal/cart"
	"github.com/lokamart/cart-api/internal/common"
	"github.com/lokamart/cart-api/internal/events"
	"github.com/lokamart/cart-api/internal/promo"
)

// Order is the minimal record the engine writes at hand-off. Payment,
// fulfilment and the rest of the order lifecycle live elsewhere.
type Order struct {
	ID        uuid.UUID `json:"id"`
	CartID    uuid.UUID `json:"cartId"`
	StoreID   string    `json:"storeId"`
	UserID    uuid.UUID `json:"userId"`
	Total     int64     `json:"total"`
	Discount  int64     `json:"discount"`
	CreatedAt time.Time `json:"createdAt"`
}

// OrderStore persists hand-off orders.
type OrderStore interface {
	InsertOrder(ctx context.Context, o Order) error
}

// PGOrders writes orders to Postgres.
type PGOrders struct {
	Pool *pgxpool.Pool
}

// InsertOrder appends the order row.
func (s *PGOrders) InsertOrder(ctx context.Context, o Order) error {
	if s == nil || s.Pool == nil {
		return errors.New("order store not configured")
	}
	_, err := s.Pool.Exec(ctx, `INSERT INTO orders (id, cart_id, store_id, user_id, total, discount)
		VALUES ($1, $2, $3, $4, $5, $6)`, o.ID, o.CartID, o.StoreID, o.UserID, o.Total, o.Discount)
	return err
}

// Service turns a reconciled cart into an order: manual reservations are
// stamped with the order id, auto-applied promotions consume their usage now,
// and the cart leaves the active state. The cycle runs under the same per-cart
// lock the cart service mutates under.
type Service struct {
	Carts   cart.Storage
	Orc     *cart.Orchestrator
	Ledger  *promo.Ledger
	Orders  OrderStore
	Bus     *events.Bus
	Locks   cart.LockRunner
	LockTTL time.Duration
	Now     func() time.Time
	Log     zerolog.Logger
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Checkout finalizes the user's active cart and returns the created order.
func (s *Service) Checkout(ctx context.Context, storeID string, userID uuid.UUID) (Order, error) {
	if s == nil || s.Carts == nil || s.Orc == nil || s.Ledger == nil || s.Orders == nil {
		return Order{}, errors.New("checkout service not configured")
	}
	var order Order
	op := func(ctx context.Context) error {
		var err error
		order, err = s.checkout(ctx, storeID, userID)
		return err
	}
	var err error
	if s.Locks != nil {
		err = s.Locks.WithLock(ctx, cart.LockKey(storeID, userID), s.LockTTL, op)
	} else {
		err = op(ctx)
	}
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *Service) checkout(ctx context.Context, storeID string, userID uuid.UUID) (Order, error) {
	c, err := s.Carts.EnsureActive(ctx, storeID, userID, s.now().Add(time.Hour))
	if err != nil {
		return Order{}, err
	}
	totals, err := s.Orc.Reconcile(ctx, &c)
	if err != nil {
		return Order{}, err
	}
	if len(c.Items) == 0 {
		return Order{}, common.NewAppError(common.CodeEmptyCart, "cannot check out an empty cart", http.StatusUnprocessableEntity, nil)
	}

	order := Order{
		ID:       uuid.New(),
		CartID:   c.ID,
		StoreID:  storeID,
		UserID:   userID,
		Total:    totals.FinalTotal,
		Discount: totals.TotalDiscount,
	}
	if err := s.Orders.InsertOrder(ctx, order); err != nil {
		return Order{}, err
	}

	// Convert reservations into permanent usage. Auto-applied promotions
	// consumed nothing so far; reserve and stamp in one go. Failures here
	// are logged, the usage recount job reconciles any drift.
	for _, ap := range c.Applied {
		if ap.AutoApplied {
			if err := s.Ledger.Reserve(ctx, ap.PromotionID, userID, ap.Discount); err != nil {
				s.Log.Error().Err(err).
					Str("promotion_id", ap.PromotionID.String()).
					Msg("failed to reserve auto promotion usage at checkout")
				continue
			}
		}
		if err := s.Ledger.Finalize(ctx, ap.PromotionID, userID, order.ID); err != nil {
			s.Log.Error().Err(err).
				Str("promotion_id", ap.PromotionID.String()).
				Str("order_id", order.ID.String()).
				Msg("failed to finalize promotion usage")
		}
	}

	// The order row and the usage stamps exist now, so a lost version race
	// must not leave the cart active. Reload and close it from fresh state.
	c.Status = cart.StatusCheckedOut
	if err := s.Carts.Save(ctx, &c); err != nil {
		if !errors.Is(err, cart.ErrVersionConflict) {
			return Order{}, err
		}
		fresh, getErr := s.Carts.Get(ctx, c.ID)
		if getErr != nil {
			return Order{}, getErr
		}
		fresh.Status = cart.StatusCheckedOut
		if err := s.Carts.Save(ctx, &fresh); err != nil {
			return Order{}, err
		}
		c = fresh
	}
	if s.Bus != nil {
		if _, err := s.Bus.Emit(ctx, events.TopicCartCheckedOut, c.ID, map[string]any{
			"orderId": order.ID,
			"total":   order.Total,
		}); err != nil {
			s.Log.Warn().Err(err).Msg("failed to emit checkout event")
		}
	}
	return order, nil
}
