package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Flowcast/internal/domain/models"
	domrepo "Flowcast/internal/domain/repository"
	"Flowcast/internal/services/lock"
	applogger "Flowcast/pkg/logger"
)

// Ledger aggregates carted items per user. Cart entries hold a weak
// reference to a price lock; effective prices are resolved at read time,
// never cached, so they always reflect current lock validity.
type Ledger struct {
	carts   domrepo.CartStore
	bundles domrepo.BundleStore
	locks   *lock.Manager
	l       *applogger.Logger
}

func NewLedger(carts domrepo.CartStore, bundles domrepo.BundleStore, locks *lock.Manager) *Ledger {
	return &Ledger{carts: carts, bundles: bundles, locks: locks}
}

// SetLogger injects a structured logger.
func (g *Ledger) SetLogger(l *applogger.Logger) { g.l = l }

// Add upserts a cart entry. When a lock is referenced it must exist, belong
// to the same user and product, and be ACTIVE.
func (g *Ledger) Add(ctx context.Context, userID, productID string, quantity int, lockID string) (*models.CartEntry, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("quantity must be >= 1, got %d", quantity)
	}
	if lockID != "" {
		pl, err := g.locks.Get(ctx, lockID)
		if err != nil {
			return nil, fmt.Errorf("resolve lock: %w", err)
		}
		if pl.UserID != userID {
			return nil, fmt.Errorf("lock %s: %w", lockID, models.ErrNotOwner)
		}
		if pl.ProductID != productID {
			return nil, fmt.Errorf("lock %s is for product %s: %w", lockID, pl.ProductID, models.ErrInvalidState)
		}
		if pl.Status != models.LockActive {
			return nil, fmt.Errorf("lock %s is %s: %w", lockID, pl.Status, models.ErrInvalidState)
		}
	}

	e := &models.CartEntry{
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		LockID:    lockID,
		AddedAt:   time.Now().UTC(),
	}
	if err := g.carts.UpsertEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("upsert cart entry: %w", err)
	}
	return e, nil
}

// Remove deletes the (user, product) entry. The referenced lock, if any, is
// untouched: locks are released explicitly, not via cart edits.
func (g *Ledger) Remove(ctx context.Context, userID, productID string) error {
	if err := g.carts.RemoveEntry(ctx, userID, productID); err != nil {
		return fmt.Errorf("remove cart entry: %w", err)
	}
	return nil
}

// List resolves every entry's effective price at read time: an ACTIVE lock
// pins its snapshot price; anything else falls back to the latest bundle's
// day-0 forecast. It also computes the cheapest common buy day across the
// cart.
func (g *Ledger) List(ctx context.Context, userID string) (*models.CartView, error) {
	entries, err := g.carts.ListEntries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}

	view := &models.CartView{UserID: userID, Entries: make([]models.PricedCartEntry, 0, len(entries))}
	bundles := make([]*models.ForecastBundle, 0, len(entries))
	quantities := make([]int, 0, len(entries))
	allForecasted := len(entries) > 0

	for _, e := range entries {
		priced := models.PricedCartEntry{CartEntry: *e, PriceSource: "forecast"}

		if e.LockID != "" {
			pl, err := g.locks.Get(ctx, e.LockID)
			switch {
			case err == nil && pl.Status == models.LockActive:
				priced.EffectivePrice = pl.Price
				priced.LockStatus = pl.Status
				priced.PriceSource = "lock"
			case err == nil:
				priced.LockStatus = pl.Status
			case errors.Is(err, models.ErrNotFound):
				// lock was deleted out from under the entry; weak
				// reference just goes stale
				if g.l != nil {
					g.l.Warn("cart lock reference gone", applogger.String("lock", e.LockID))
				}
			default:
				return nil, fmt.Errorf("resolve lock %s: %w", e.LockID, err)
			}
		}

		bundle, err := g.bundles.LatestBundle(ctx, e.ProductID)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("latest bundle %s: %w", e.ProductID, err)
			}
			bundle = nil
		}

		if priced.PriceSource != "lock" {
			if bundle == nil {
				priced.PriceSource = "unavailable"
			} else {
				priced.EffectivePrice = bundle.Points[0].Price
			}
		}
		if bundle == nil {
			allForecasted = false
		}

		view.Total += priced.EffectivePrice * float64(e.Quantity)
		view.Entries = append(view.Entries, priced)
		bundles = append(bundles, bundle)
		quantities = append(quantities, e.Quantity)
	}

	if allForecasted {
		if day, total, ok := bestBuyWindow(bundles, quantities); ok {
			view.BestBuyDay = &day
			view.BestBuyTotal = total
		}
	}
	return view, nil
}

// bestBuyWindow finds the day index minimizing the quantity-weighted cart
// total, counting only days where every product has a positive forecast
// (expired perishables forecast zero and drop out).
func bestBuyWindow(bundles []*models.ForecastBundle, quantities []int) (time.Time, float64, bool) {
	bestTotal := 0.0
	bestDay := -1
	for day := 0; day < models.ForecastDays; day++ {
		total := 0.0
		valid := true
		for i, b := range bundles {
			p := b.Points[day].Price
			if p <= 0 {
				valid = false
				break
			}
			total += p * float64(quantities[i])
		}
		if !valid {
			continue
		}
		if bestDay == -1 || total < bestTotal {
			bestDay = day
			bestTotal = total
		}
	}
	if bestDay == -1 {
		return time.Time{}, 0, false
	}
	return bundles[0].Points[bestDay].Day, bestTotal, true
}
