package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"Flowcast/internal/domain/models"
)

func testBundle(productID string, generatedAt time.Time) *models.ForecastBundle {
	points := make([]models.ForecastPoint, 0, models.ForecastDays)
	for day := 0; day < models.ForecastDays; day++ {
		points = append(points, models.ForecastPoint{
			ProductID: productID,
			DayIndex:  day,
			Day:       generatedAt.AddDate(0, 0, day),
			Price:     10 + float64(day),
		})
	}
	return &models.ForecastBundle{
		ProductID:    productID,
		GeneratedAt:  generatedAt,
		ModelVersion: "seasonal-v1",
		Points:       points,
	}
}

func testLock(id, userID, productID string, createdAt time.Time) *models.PriceLock {
	return &models.PriceLock{
		ID:        id,
		UserID:    userID,
		ProductID: productID,
		Price:     10,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(time.Hour),
		Status:    models.LockActive,
	}
}

func TestInsertActiveConflictsWhileActive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.InsertActive(ctx, testLock("l1", "u1", "p1", now)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.InsertActive(ctx, testLock("l2", "u1", "p1", now)); !errors.Is(err, models.ErrConflictingLock) {
		t.Fatalf("err = %v, want ErrConflictingLock", err)
	}

	// distinct user or product does not conflict
	if err := s.InsertActive(ctx, testLock("l3", "u2", "p1", now)); err != nil {
		t.Fatalf("other user: %v", err)
	}
	if err := s.InsertActive(ctx, testLock("l4", "u1", "p2", now)); err != nil {
		t.Fatalf("other product: %v", err)
	}

	// once l1 leaves ACTIVE the slot opens
	if ok, err := s.TransitionStatus(ctx, "l1", models.LockActive, models.LockReleased); !ok || err != nil {
		t.Fatalf("transition: (%v, %v)", ok, err)
	}
	if err := s.InsertActive(ctx, testLock("l5", "u1", "p1", now)); err != nil {
		t.Fatalf("insert after release: %v", err)
	}
}

func TestTransitionStatusCAS(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.InsertActive(ctx, testLock("l1", "u1", "p1", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ok, err := s.TransitionStatus(ctx, "l1", models.LockActive, models.LockExpired)
	if !ok || err != nil {
		t.Fatalf("first cas: (%v, %v)", ok, err)
	}

	// wrong from state loses the CAS without error
	ok, err = s.TransitionStatus(ctx, "l1", models.LockActive, models.LockReleased)
	if ok || err != nil {
		t.Fatalf("second cas: (%v, %v), want lost without error", ok, err)
	}

	l, err := s.GetLock(ctx, "l1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if l.Status != models.LockExpired {
		t.Fatalf("status = %s, want EXPIRED", l.Status)
	}

	if _, err := s.TransitionStatus(ctx, "missing", models.LockActive, models.LockExpired); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing lock err = %v, want ErrNotFound", err)
	}
}

func TestActiveLocksOrdered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	s.InsertActive(ctx, testLock("l2", "u1", "p2", base.Add(time.Minute)))
	s.InsertActive(ctx, testLock("l1", "u1", "p1", base))
	s.InsertActive(ctx, testLock("l3", "u1", "p3", base.Add(2*time.Minute)))
	s.TransitionStatus(ctx, "l2", models.LockActive, models.LockConsumed)

	active, err := s.ActiveLocks(ctx)
	if err != nil {
		t.Fatalf("active locks: %v", err)
	}
	if len(active) != 2 || active[0].ID != "l1" || active[1].ID != "l3" {
		t.Fatalf("active = %v", active)
	}
}

func TestPutBundleValidatesShape(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	b := testBundle("p1", time.Now().UTC())
	b.Points = b.Points[:3]

	if err := s.PutBundle(ctx, b); err == nil {
		t.Fatalf("want error for truncated bundle")
	}
}

func TestLatestBundleAndHistory(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := s.PutBundle(ctx, testBundle("p1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	latest, err := s.LatestBundle(ctx, "p1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !latest.GeneratedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("latest generated at %v", latest.GeneratedAt)
	}

	hist, err := s.BundleHistory(ctx, "p1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("got %d bundles", len(hist))
	}
	if !hist[0].GeneratedAt.After(hist[1].GeneratedAt) {
		t.Fatalf("history not newest-first: %v, %v", hist[0].GeneratedAt, hist[1].GeneratedAt)
	}

	if _, err := s.LatestBundle(ctx, "p2"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing product err = %v, want ErrNotFound", err)
	}
}

func TestPutBundleCopiesPoints(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	b := testBundle("p1", time.Now().UTC())

	if err := s.PutBundle(ctx, b); err != nil {
		t.Fatalf("put: %v", err)
	}
	b.Points[0].Price = -99

	got, err := s.LatestBundle(ctx, "p1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Points[0].Price == -99 {
		t.Fatalf("stored bundle aliases caller's slice")
	}
}

func TestLatestAttributionsTrackGeneration(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	old := testBundle("p1", base)
	if err := s.PutBundle(ctx, old); err != nil {
		t.Fatalf("put old: %v", err)
	}
	oldAttrs := []models.Attribution{{ProductID: "p1", DayIndex: 0,
		Weights: []models.AttributionWeight{{Feature: "demand_index", Weight: 1}}}}
	if err := s.PutAttributions(ctx, "p1", base, oldAttrs); err != nil {
		t.Fatalf("put old attrs: %v", err)
	}

	if _, err := s.LatestAttributions(ctx, "p1"); err != nil {
		t.Fatalf("latest attrs: %v", err)
	}

	// a newer bundle without attributions makes the old ones unreachable
	if err := s.PutBundle(ctx, testBundle("p1", base.Add(time.Minute))); err != nil {
		t.Fatalf("put new: %v", err)
	}
	if _, err := s.LatestAttributions(ctx, "p1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound until new attrs land", err)
	}

	newAttrs := []models.Attribution{{ProductID: "p1", DayIndex: 0,
		Weights: []models.AttributionWeight{{Feature: "stock_ratio", Weight: 1}}}}
	if err := s.PutAttributions(ctx, "p1", base.Add(time.Minute), newAttrs); err != nil {
		t.Fatalf("put new attrs: %v", err)
	}
	got, err := s.LatestAttributions(ctx, "p1")
	if err != nil {
		t.Fatalf("latest attrs: %v", err)
	}
	if got[0].Weights[0].Feature != "stock_ratio" {
		t.Fatalf("got attrs %+v, want the newest generation's", got[0].Weights)
	}
}

func TestCartUpsertRemoveList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	s.UpsertEntry(ctx, &models.CartEntry{UserID: "u1", ProductID: "p2", Quantity: 1, AddedAt: base.Add(time.Minute)})
	s.UpsertEntry(ctx, &models.CartEntry{UserID: "u1", ProductID: "p1", Quantity: 2, AddedAt: base})
	s.UpsertEntry(ctx, &models.CartEntry{UserID: "u2", ProductID: "p1", Quantity: 9, AddedAt: base})

	// upsert replaces in place
	s.UpsertEntry(ctx, &models.CartEntry{UserID: "u1", ProductID: "p1", Quantity: 5, AddedAt: base})

	entries, err := s.ListEntries(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].ProductID != "p1" || entries[0].Quantity != 5 {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if entries[1].ProductID != "p2" {
		t.Fatalf("second entry = %+v", entries[1])
	}

	if err := s.RemoveEntry(ctx, "u1", "p1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveEntry(ctx, "u1", "p1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("double remove err = %v, want ErrNotFound", err)
	}

	entries, _ = s.ListEntries(ctx, "u2")
	if len(entries) != 1 || entries[0].Quantity != 9 {
		t.Fatalf("u2 cart = %+v", entries)
	}
}

func TestStockUpdateAppliesToProduct(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	expiry := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	s.PutProduct(ctx, &models.Product{ID: "p1", Stock: 50})
	if err := s.ApplyStockUpdate(ctx, &models.StockUpdate{ProductID: "p1", Stock: 30, ExpiryDate: expiry}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	p, err := s.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Stock != 30 || !p.ExpiryDate.Equal(expiry) {
		t.Fatalf("product = %+v", p)
	}

	if err := s.ApplyStockUpdate(ctx, &models.StockUpdate{ProductID: "ghost", Stock: 1}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing product err = %v, want ErrNotFound", err)
	}
}

func TestMemoryHistoryStoreWindow(t *testing.T) {
	s := NewMemoryHistoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	pts := []models.HistoryPoint{
		{Timestamp: now.Add(-40 * 24 * time.Hour), Price: 1},
		{Timestamp: now.Add(-10 * 24 * time.Hour), Price: 2},
		{Timestamp: now.Add(-1 * 24 * time.Hour), Price: 3},
	}
	if err := s.AppendHistory(ctx, "p1", pts); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.GetHistory(ctx, "p1", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d points, want 2 inside the window", len(got))
	}
	if got[0].Price != 2 || got[1].Price != 3 {
		t.Fatalf("points out of order: %+v", got)
	}
}
