package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lokamart/cart-api/internal/catalog"
	"github.com/lokamart/cart-api/internal/common"
	"github.com/lokamart/cart-api/internal/events"
	"github.com/lokamart/cart-api/internal/obs"
	"github.com/lokamart/cart-api/internal/promo"
)

// ProductSource resolves product data for price snapshots.
type ProductSource interface {
	Get(ctx context.Context, id uuid.UUID) (catalog.Product, error)
}

// LockRunner serializes cart mutations across concurrent requests.
type LockRunner interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// View is the reconciled cart plus its priced totals, returned by every
// mutation entry point.
type View struct {
	Cart   Cart
	Totals Totals
}

// Service wires the cart aggregate to the promotion engine. Every mutation
// runs under the per-cart lock, applies the change, reconciles promotions and
// saves with an optimistic version check, retrying once on conflict.
type Service struct {
	Carts    Storage
	Products ProductSource
	Promos   promo.Catalog
	Ledger   *promo.Ledger
	Orc      *Orchestrator
	Locks    LockRunner
	Bus      *events.Bus

	TTL         time.Duration
	LockTTL     time.Duration
	PriceListID int
	Now         func() time.Time
	Log         zerolog.Logger
}

func (s *Service) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get loads (or lazily creates) the user's active cart and reconciles it.
func (s *Service) Get(ctx context.Context, storeID string, userID uuid.UUID) (View, error) {
	return s.mutate(ctx, storeID, userID, true, func(ctx context.Context, c *Cart) error {
		return nil
	})
}

// AddItem upserts a line, snapshotting the resolved price on first insert.
func (s *Service) AddItem(ctx context.Context, storeID string, userID, productID uuid.UUID, qty int32) (View, error) {
	if qty < 1 {
		return View{}, common.NewAppError(common.CodeInvalidInput, "quantity must be at least 1", http.StatusBadRequest, nil)
	}
	return s.mutate(ctx, storeID, userID, true, func(ctx context.Context, c *Cart) error {
		if i := c.FindItem(productID); i >= 0 && !c.Items[i].IsFreeItem {
			c.Items[i].Qty += qty
			return nil
		}
		product, err := s.Products.Get(ctx, productID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return common.NewAppError(common.CodeNotFound, "product not found", http.StatusNotFound, err)
			}
			return fmt.Errorf("load product: %w", err)
		}
		c.Items = append(c.Items, Item{
			ID:           uuid.New(),
			ProductID:    productID,
			CategoryCode: product.CategoryCode,
			Title:        product.Title,
			Qty:          qty,
			UnitPrice:    catalog.ResolvePrice(&product, s.PriceListID),
		})
		return nil
	})
}

// RemoveItem drops a line entirely.
func (s *Service) RemoveItem(ctx context.Context, storeID string, userID, productID uuid.UUID) (View, error) {
	return s.mutate(ctx, storeID, userID, true, func(ctx context.Context, c *Cart) error {
		i := c.FindItem(productID)
		if i < 0 {
			return common.NewAppError(common.CodeNotFound, "item not in cart", http.StatusNotFound, nil)
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return nil
	})
}

// UpdateItem sets the paid quantity of a line. Zero removes the line. Free
// bookkeeping is cleared here and rebuilt by the reconciler.
func (s *Service) UpdateItem(ctx context.Context, storeID string, userID, productID uuid.UUID, qty int32) (View, error) {
	if qty < 0 {
		return View{}, common.NewAppError(common.CodeInvalidInput, "quantity must not be negative", http.StatusBadRequest, nil)
	}
	return s.mutate(ctx, storeID, userID, true, func(ctx context.Context, c *Cart) error {
		i := c.FindItem(productID)
		if i < 0 {
			return common.NewAppError(common.CodeNotFound, "item not in cart", http.StatusNotFound, nil)
		}
		if qty == 0 || c.Items[i].IsFreeItem {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
		c.Items[i].Qty = qty
		c.Items[i].FreeQty = 0
		return nil
	})
}

// Clear empties items and applied promotions. Usage reservations are kept;
// abandonment is not a removal.
func (s *Service) Clear(ctx context.Context, storeID string, userID uuid.UUID) (View, error) {
	view, err := s.mutate(ctx, storeID, userID, false, func(ctx context.Context, c *Cart) error {
		c.Items = nil
		c.Applied = nil
		return nil
	})
	if err == nil {
		s.emit(ctx, events.TopicCartCleared, view.Cart.ID, nil)
	}
	return view, err
}

// ApplyPromotion attaches a promotion by id or code as a manual promotion,
// reserving one usage, then reconciles so additional auto promotions attach
// in the same pass.
func (s *Service) ApplyPromotion(ctx context.Context, storeID string, userID uuid.UUID, idOrCode string) (View, error) {
	idOrCode = strings.TrimSpace(idOrCode)
	if idOrCode == "" {
		return View{}, common.NewAppError(common.CodeInvalidInput, "promotion id or code required", http.StatusBadRequest, nil)
	}
	var reservedID uuid.UUID
	view, err := s.mutate(ctx, storeID, userID, true, func(ctx context.Context, c *Cart) error {
		// A retried attempt re-runs this closure; undo the previous
		// reservation first so usage stays conserved.
		if reservedID != uuid.Nil {
			s.releaseQuietly(ctx, reservedID, userID)
			reservedID = uuid.Nil
		}
		if len(c.Items) == 0 {
			return common.NewAppError(common.CodeEmptyCart, "cannot apply a promotion to an empty cart", http.StatusUnprocessableEntity, nil)
		}
		rule, err := s.resolvePromotion(ctx, storeID, idOrCode)
		if err != nil {
			return err
		}
		if c.HasPromotion(rule.ID) {
			return common.NewAppError(common.CodeAlreadyApplied, "promotion already applied", http.StatusConflict, nil)
		}
		lines := c.Lines()
		perUser, err := s.userUsage(ctx, rule, userID)
		if err != nil {
			return err
		}
		if checkErr := promo.Check(rule, lines, perUser, s.now()); checkErr != nil {
			return notEligible(checkErr)
		}
		discounts := promo.ComputeDiscounts(rule, lines)
		if len(discounts) == 0 {
			return noApplicableDiscount(rule, lines)
		}
		if err := s.Ledger.Reserve(ctx, rule.ID, userID, promo.DisplayTotal(discounts)); err != nil {
			if errors.Is(err, promo.ErrUsageLimitReached) {
				return notEligible(promo.ErrUsageLimitReached)
			}
			return err
		}
		reservedID = rule.ID
		c.Applied = append(c.Applied, AppliedPromotion{
			PromotionID: rule.ID,
			Code:        rule.Code,
			Discount:    promo.DisplayTotal(discounts),
			AppliedAt:   s.now(),
		})
		if obs.PromotionAppliedTotal != nil {
			obs.PromotionAppliedTotal.WithLabelValues(string(rule.Kind), "manual").Inc()
		}
		return nil
	})
	if err != nil {
		if reservedID != uuid.Nil {
			s.releaseQuietly(ctx, reservedID, userID)
		}
		return View{}, err
	}
	s.emit(ctx, events.TopicPromotionApplied, view.Cart.ID, map[string]any{"promotionId": reservedID})
	return view, nil
}

// RemovePromotion detaches a promotion. Manual entries give their usage
// reservation back; auto entries just drop. The auto set is not re-evaluated
// in the same call, so a removed auto promotion stays off until the next
// cart mutation.
func (s *Service) RemovePromotion(ctx context.Context, storeID string, userID, promotionID uuid.UUID) (View, error) {
	view, err := s.mutate(ctx, storeID, userID, false, func(ctx context.Context, c *Cart) error {
		for i, ap := range c.Applied {
			if ap.PromotionID != promotionID {
				continue
			}
			if !ap.AutoApplied {
				s.releaseQuietly(ctx, ap.PromotionID, userID)
			}
			c.Applied = append(c.Applied[:i], c.Applied[i+1:]...)
			return nil
		}
		return common.NewAppError(common.CodeNotFound, "promotion not applied to this cart", http.StatusNotFound, nil)
	})
	if err == nil {
		s.emit(ctx, events.TopicPromotionReleased, view.Cart.ID, map[string]any{"promotionId": promotionID})
	}
	return view, err
}

// RemoveAllPromotions releases every manual reservation and reverts all
// free-item state.
func (s *Service) RemoveAllPromotions(ctx context.Context, storeID string, userID uuid.UUID) (View, error) {
	return s.mutate(ctx, storeID, userID, false, func(ctx context.Context, c *Cart) error {
		for _, ap := range c.Applied {
			if !ap.AutoApplied {
				s.releaseQuietly(ctx, ap.PromotionID, userID)
			}
		}
		c.Applied = nil
		return nil
	})
}

// ApplicablePromotions scans the store's active promotions against the
// current cart without mutating anything.
func (s *Service) ApplicablePromotions(ctx context.Context, storeID string, userID uuid.UUID) ([]promo.Rule, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	c, err := s.Carts.EnsureActive(ctx, storeID, userID, s.now().Add(s.ttl()))
	if err != nil {
		return nil, err
	}
	lines := c.Lines()
	now := s.now()
	rules, err := s.Promos.ListActive(ctx, storeID, now)
	if err != nil {
		return nil, err
	}
	var out []promo.Rule
	for _, rule := range rules {
		perUser, err := s.userUsage(ctx, rule, userID)
		if err != nil {
			return nil, err
		}
		if promo.Check(rule, lines, perUser, now) != nil {
			continue
		}
		if len(promo.ComputeDiscounts(rule, lines)) == 0 {
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

// mutate is the shared read-modify-write cycle: lock, load, apply fn,
// reconcile, save. A save that loses the version race is retried once from a
// fresh load.
func (s *Service) mutate(ctx context.Context, storeID string, userID uuid.UUID, includeAuto bool, fn func(context.Context, *Cart) error) (View, error) {
	if err := s.ready(); err != nil {
		return View{}, err
	}
	var view View
	op := func(ctx context.Context) error {
		var lastErr error
		for attempt := 0; attempt < 2; attempt++ {
			c, err := s.Carts.EnsureActive(ctx, storeID, userID, s.now().Add(s.ttl()))
			if err != nil {
				return err
			}
			if err := fn(ctx, &c); err != nil {
				return err
			}
			var totals Totals
			if includeAuto {
				totals, err = s.Orc.Reconcile(ctx, &c)
			} else {
				totals, err = s.Orc.Recompute(ctx, &c)
			}
			if err != nil {
				return err
			}
			c.ExpiresAt = s.now().Add(s.ttl())
			if err := s.Carts.Save(ctx, &c); err != nil {
				if errors.Is(err, ErrVersionConflict) {
					lastErr = err
					continue
				}
				return err
			}
			view = View{Cart: c, Totals: totals}
			return nil
		}
		return common.NewAppError(common.CodeConflict, "cart was modified concurrently, retry", http.StatusConflict, lastErr)
	}
	var err error
	if s.Locks != nil {
		err = s.Locks.WithLock(ctx, LockKey(storeID, userID), s.LockTTL, op)
	} else {
		err = op(ctx)
	}
	if err != nil {
		return View{}, err
	}
	s.emit(ctx, events.TopicCartUpdated, view.Cart.ID, map[string]any{"finalTotal": view.Totals.FinalTotal})
	return view, nil
}

func (s *Service) ready() error {
	if s == nil || s.Carts == nil || s.Promos == nil || s.Orc == nil || s.Ledger == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

func (s *Service) resolvePromotion(ctx context.Context, storeID, idOrCode string) (promo.Rule, error) {
	var (
		rule promo.Rule
		err  error
	)
	if id, parseErr := uuid.Parse(idOrCode); parseErr == nil {
		rule, err = s.Promos.GetByID(ctx, id)
	} else {
		rule, err = s.Promos.GetByCode(ctx, storeID, strings.ToUpper(idOrCode))
	}
	if err != nil {
		if errors.Is(err, promo.ErrNotFound) {
			return promo.Rule{}, common.NewAppError(common.CodeNotFound, "promotion not found", http.StatusNotFound, err)
		}
		return promo.Rule{}, fmt.Errorf("resolve promotion: %w", err)
	}
	return rule, nil
}

func (s *Service) userUsage(ctx context.Context, rule promo.Rule, userID uuid.UUID) (int32, error) {
	if rule.MaxUsagePerUser <= 0 {
		return 0, nil
	}
	return s.Ledger.UserUsage(ctx, rule.ID, userID)
}

func (s *Service) releaseQuietly(ctx context.Context, promotionID, userID uuid.UUID) {
	if err := s.Ledger.Release(ctx, promotionID, userID); err != nil {
		s.Log.Error().Err(err).
			Str("promotion_id", promotionID.String()).
			Msg("failed to release promotion usage")
	}
}

func (s *Service) emit(ctx context.Context, topic string, cartID uuid.UUID, payload any) {
	if s.Bus == nil {
		return
	}
	if _, err := s.Bus.Emit(ctx, topic, cartID, payload); err != nil {
		s.Log.Warn().Err(err).Str("topic", topic).Msg("failed to emit domain event")
	}
}

// LockKey names the per-cart lock. Checkout takes the same lock so a
// finalizing cart cannot race a concurrent mutation.
func LockKey(storeID string, userID uuid.UUID) string {
	return "cart:lock:" + storeID + ":" + userID.String()
}

// notEligible maps an eligibility failure onto the request-boundary error,
// naming the first failing sub-check.
func notEligible(err error) *common.AppError {
	return common.NewAppError(common.CodeNotEligible, err.Error(), http.StatusUnprocessableEntity, err)
}

// noApplicableDiscount reports an eligible promotion whose calculator matched
// nothing, with enough context to diagnose which lines were inspected.
func noApplicableDiscount(rule promo.Rule, lines []promo.Line) *common.AppError {
	inspected := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		inspected = append(inspected, map[string]any{
			"productId": l.ProductID,
			"qty":       l.Qty,
			"freeQty":   l.FreeQty,
		})
	}
	appErr := common.NewAppError(common.CodeNoApplicableDiscount,
		fmt.Sprintf("promotion %s (%s) matched no cart line", rule.Code, rule.Kind),
		http.StatusUnprocessableEntity, nil)
	appErr.Details = map[string]any{"ruleKind": rule.Kind, "lines": inspected}
	return appErr
}
