package promo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lokamart/cart-api/internal/obs"
)

// ErrNoReservation indicates there is no pending usage entry to release or finalize.
var ErrNoReservation = errors.New("no pending usage reservation")

// LedgerStore is the persistence contract for usage accounting. Reserve must
// increment the global counter conditionally in a single statement so that
// concurrent carts cannot overshoot the cap.
type LedgerStore interface {
	ReserveUsage(ctx context.Context, promotionID, userID uuid.UUID, amount int64) error
	ReleaseUsage(ctx context.Context, promotionID, userID uuid.UUID) error
	FinalizeUsage(ctx context.Context, promotionID, userID, orderID uuid.UUID) error
	CountUserUsage(ctx context.Context, promotionID, userID uuid.UUID) (int32, error)
}

// Ledger keeps a promotion's global usage counter and usage history
// consistent. Only manual promotion apply/remove goes through Reserve and
// Release before checkout; auto-applied promotions reserve at checkout.
type Ledger struct {
	Store LedgerStore
	Log   zerolog.Logger
}

// Reserve books one usage: the counter is incremented and an order-less
// history entry appended. ErrUsageLimitReached is returned when the global
// cap would be exceeded.
func (l *Ledger) Reserve(ctx context.Context, promotionID, userID uuid.UUID, amount int64) error {
	if l == nil || l.Store == nil {
		return errors.New("usage ledger not configured")
	}
	if err := l.Store.ReserveUsage(ctx, promotionID, userID, amount); err != nil {
		l.count("reserve", "error")
		return fmt.Errorf("reserve usage: %w", err)
	}
	l.count("reserve", "ok")
	return nil
}

// Release undoes a reservation: the most recent order-less history entry for
// the user is removed and the counter decremented, floored at zero. Entries
// already stamped with an order are never released.
func (l *Ledger) Release(ctx context.Context, promotionID, userID uuid.UUID) error {
	if l == nil || l.Store == nil {
		return errors.New("usage ledger not configured")
	}
	if err := l.Store.ReleaseUsage(ctx, promotionID, userID); err != nil {
		if errors.Is(err, ErrNoReservation) {
			l.count("release", "noop")
			return nil
		}
		l.count("release", "error")
		return fmt.Errorf("release usage: %w", err)
	}
	l.count("release", "ok")
	return nil
}

// Finalize stamps the order onto the pending reservation, converting it into
// a permanent usage record.
func (l *Ledger) Finalize(ctx context.Context, promotionID, userID, orderID uuid.UUID) error {
	if l == nil || l.Store == nil {
		return errors.New("usage ledger not configured")
	}
	if err := l.Store.FinalizeUsage(ctx, promotionID, userID, orderID); err != nil {
		l.count("finalize", "error")
		return fmt.Errorf("finalize usage: %w", err)
	}
	l.count("finalize", "ok")
	return nil
}

// UserUsage returns the number of usage-history entries recorded for the user.
func (l *Ledger) UserUsage(ctx context.Context, promotionID, userID uuid.UUID) (int32, error) {
	if l == nil || l.Store == nil {
		return 0, errors.New("usage ledger not configured")
	}
	return l.Store.CountUserUsage(ctx, promotionID, userID)
}

func (l *Ledger) count(op, result string) {
	if obs.UsageLedgerTotal != nil {
		obs.UsageLedgerTotal.WithLabelValues(op, result).Inc()
	}
}
