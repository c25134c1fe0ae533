package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"Flowcast/internal/domain/models"
	internalrepo "Flowcast/internal/repository"
	"Flowcast/internal/services/lock"
)

func putBundle(t *testing.T, store *internalrepo.MemoryStore, productID string, generatedAt time.Time, prices [models.ForecastDays]float64) *models.ForecastBundle {
	t.Helper()
	points := make([]models.ForecastPoint, 0, models.ForecastDays)
	for day := 0; day < models.ForecastDays; day++ {
		points = append(points, models.ForecastPoint{
			ProductID:  productID,
			DayIndex:   day,
			Day:        generatedAt.AddDate(0, 0, day),
			Price:      prices[day],
			IntervalLo: prices[day] - 1,
			IntervalHi: prices[day] + 1,
		})
	}
	b := &models.ForecastBundle{
		ProductID:    productID,
		GeneratedAt:  generatedAt,
		ModelVersion: "seasonal-v1",
		Points:       points,
	}
	if err := store.PutBundle(context.Background(), b); err != nil {
		t.Fatalf("put bundle: %v", err)
	}
	return b
}

func fixture(now *time.Time) (*Ledger, *lock.Manager, *internalrepo.MemoryStore) {
	store := internalrepo.NewMemoryStore()
	locks := lock.NewManager(store, store, nil, nil, lock.Config{TTL: time.Hour},
		lock.WithClock(func() time.Time { return *now }))
	return NewLedger(store, store, locks), locks, store
}

func TestListLockedPricePinned(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	g, locks, store := fixture(&now)
	b := putBundle(t, store, "p1", now, [models.ForecastDays]float64{10, 9, 8, 7, 7, 7, 8, 9, 10, 11})

	l, err := locks.Create(context.Background(), "u1", "p1", 3, b)
	if err != nil {
		t.Fatalf("create lock: %v", err)
	}
	if _, err := g.Add(context.Background(), "u1", "p1", 2, l.ID); err != nil {
		t.Fatalf("add: %v", err)
	}

	view, err := g.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(view.Entries) != 1 {
		t.Fatalf("got %d entries", len(view.Entries))
	}
	e := view.Entries[0]
	if e.PriceSource != "lock" || e.EffectivePrice != 7 {
		t.Fatalf("entry = (%s, %v), want locked 7", e.PriceSource, e.EffectivePrice)
	}
	if view.Total != 14 {
		t.Fatalf("total = %v, want 14", view.Total)
	}

	// a newer, cheaper generation does not change the locked price
	putBundle(t, store, "p1", now.Add(time.Minute), [models.ForecastDays]float64{5, 5, 5, 5, 5, 5, 5, 5, 5, 5})
	view, err = g.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if view.Entries[0].EffectivePrice != 7 {
		t.Fatalf("price after new bundle = %v, want 7", view.Entries[0].EffectivePrice)
	}
}

func TestListFallsBackAfterExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	g, locks, store := fixture(&now)
	b := putBundle(t, store, "p1", now, [models.ForecastDays]float64{10, 9, 8, 7, 7, 7, 8, 9, 10, 11})

	l, err := locks.Create(context.Background(), "u1", "p1", 3, b)
	if err != nil {
		t.Fatalf("create lock: %v", err)
	}
	if _, err := g.Add(context.Background(), "u1", "p1", 1, l.ID); err != nil {
		t.Fatalf("add: %v", err)
	}

	now = now.Add(2 * time.Hour)
	view, err := g.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	e := view.Entries[0]
	if e.PriceSource != "forecast" || e.EffectivePrice != 10 {
		t.Fatalf("entry = (%s, %v), want forecast day-0 price 10", e.PriceSource, e.EffectivePrice)
	}
	if e.LockStatus != models.LockExpired {
		t.Fatalf("lock status = %s", e.LockStatus)
	}
	if e.LockID != l.ID {
		t.Fatalf("weak lock reference should survive expiry")
	}
}

func TestAddRejectsForeignLock(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	g, locks, store := fixture(&now)
	b := putBundle(t, store, "p1", now, [models.ForecastDays]float64{10, 9, 8, 7, 7, 7, 8, 9, 10, 11})

	l, err := locks.Create(context.Background(), "u1", "p1", 0, b)
	if err != nil {
		t.Fatalf("create lock: %v", err)
	}
	if _, err := g.Add(context.Background(), "u2", "p1", 1, l.ID); !errors.Is(err, models.ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}

	b2 := putBundle(t, store, "p2", now, [models.ForecastDays]float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	_ = b2
	if _, err := g.Add(context.Background(), "u1", "p2", 1, l.ID); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState for product mismatch", err)
	}
}

func TestBestBuyWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	g, _, store := fixture(&now)

	// p1 is cheapest on day 2; p2 on day 5; combined minimum lands on day 2
	putBundle(t, store, "p1", now, [models.ForecastDays]float64{10, 9, 2, 7, 7, 7, 8, 9, 10, 11})
	putBundle(t, store, "p2", now, [models.ForecastDays]float64{5, 5, 5, 5, 5, 3, 5, 5, 5, 5})

	if _, err := g.Add(context.Background(), "u1", "p1", 2, ""); err != nil {
		t.Fatalf("add p1: %v", err)
	}
	if _, err := g.Add(context.Background(), "u1", "p2", 1, ""); err != nil {
		t.Fatalf("add p2: %v", err)
	}

	view, err := g.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if view.BestBuyDay == nil {
		t.Fatalf("no best buy day")
	}
	if got := view.BestBuyDay.Sub(now).Hours() / 24; got != 2 {
		t.Fatalf("best buy day offset = %v, want 2", got)
	}
	if view.BestBuyTotal != 9 {
		t.Fatalf("best buy total = %v, want 9", view.BestBuyTotal)
	}
}

func TestBestBuySkipsZeroPricedDays(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	g, _, store := fixture(&now)

	// p1 forecasts zero from day 2 (expired perishable); those days drop out
	putBundle(t, store, "p1", now, [models.ForecastDays]float64{10, 9, 0, 0, 0, 0, 0, 0, 0, 0})
	putBundle(t, store, "p2", now, [models.ForecastDays]float64{5, 5, 1, 1, 1, 1, 1, 1, 1, 1})

	if _, err := g.Add(context.Background(), "u1", "p1", 1, ""); err != nil {
		t.Fatalf("add p1: %v", err)
	}
	if _, err := g.Add(context.Background(), "u1", "p2", 1, ""); err != nil {
		t.Fatalf("add p2: %v", err)
	}

	view, err := g.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if view.BestBuyDay == nil {
		t.Fatalf("no best buy day")
	}
	if got := view.BestBuyDay.Sub(now).Hours() / 24; got != 1 {
		t.Fatalf("best buy day offset = %v, want 1", got)
	}
	if view.BestBuyTotal != 14 {
		t.Fatalf("best buy total = %v, want 14", view.BestBuyTotal)
	}
}

func TestRemoveKeepsLock(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	g, locks, store := fixture(&now)
	b := putBundle(t, store, "p1", now, [models.ForecastDays]float64{10, 9, 8, 7, 7, 7, 8, 9, 10, 11})

	l, _ := locks.Create(context.Background(), "u1", "p1", 0, b)
	if _, err := g.Add(context.Background(), "u1", "p1", 1, l.ID); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := g.Remove(context.Background(), "u1", "p1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	got, err := locks.Get(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("get lock: %v", err)
	}
	if got.Status != models.LockActive {
		t.Fatalf("lock status after cart removal = %s, want ACTIVE", got.Status)
	}

	if err := g.Remove(context.Background(), "u1", "p1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("double remove err = %v, want ErrNotFound", err)
	}
}
