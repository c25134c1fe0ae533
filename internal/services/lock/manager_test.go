package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Flowcast/internal/domain/models"
	internalrepo "Flowcast/internal/repository"
)

func putBundle(t *testing.T, store *internalrepo.MemoryStore, productID string, generatedAt time.Time) *models.ForecastBundle {
	t.Helper()
	points := make([]models.ForecastPoint, 0, models.ForecastDays)
	for day := 0; day < models.ForecastDays; day++ {
		points = append(points, models.ForecastPoint{
			ProductID:  productID,
			DayIndex:   day,
			Day:        generatedAt.AddDate(0, 0, day),
			Price:      10 + float64(day),
			IntervalLo: 9 + float64(day),
			IntervalHi: 11 + float64(day),
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

func newTestManager(store *internalrepo.MemoryStore, now *time.Time) *Manager {
	return NewManager(store, store, nil, nil, Config{TTL: time.Hour}, WithClock(func() time.Time { return *now }))
}

func TestCreateSnapshotsPrice(t *testing.T) {
	store := internalrepo.NewMemoryStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m := newTestManager(store, &now)
	b := putBundle(t, store, "p1", now)

	l, err := m.Create(context.Background(), "u1", "p1", 3, b)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.Price != 13 || l.IntervalLo != 12 || l.IntervalHi != 14 {
		t.Fatalf("snapshot = (%v, %v, %v)", l.Price, l.IntervalLo, l.IntervalHi)
	}
	if l.Status != models.LockActive {
		t.Fatalf("status = %s", l.Status)
	}
	if !l.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expires_at = %v", l.ExpiresAt)
	}

	// snapshot survives a newer generation
	putBundle(t, store, "p1", now.Add(time.Minute))
	got, err := m.Get(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Price != 13 {
		t.Fatalf("price after new bundle = %v, want 13", got.Price)
	}
}

func TestCreateConflict(t *testing.T) {
	store := internalrepo.NewMemoryStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m := newTestManager(store, &now)
	b := putBundle(t, store, "p1", now)

	if _, err := m.Create(context.Background(), "u1", "p1", 0, b); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(context.Background(), "u1", "p1", 5, b); !errors.Is(err, models.ErrConflictingLock) {
		t.Fatalf("err = %v, want ErrConflictingLock", err)
	}

	// other users and other products are unaffected
	if _, err := m.Create(context.Background(), "u2", "p1", 0, b); err != nil {
		t.Fatalf("second user: %v", err)
	}
	b2 := putBundle(t, store, "p2", now)
	if _, err := m.Create(context.Background(), "u1", "p2", 0, b2); err != nil {
		t.Fatalf("second product: %v", err)
	}
}

func TestCreateStaleBundle(t *testing.T) {
	store := internalrepo.NewMemoryStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m := newTestManager(store, &now)
	old := putBundle(t, store, "p1", now)
	putBundle(t, store, "p1", now.Add(time.Minute))

	if _, err := m.Create(context.Background(), "u1", "p1", 0, old); !errors.Is(err, models.ErrStaleForecast) {
		t.Fatalf("err = %v, want ErrStaleForecast", err)
	}
}

func TestValidateLazyExpiry(t *testing.T) {
	store := internalrepo.NewMemoryStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m := newTestManager(store, &now)
	b := putBundle(t, store, "p1", now)

	l, err := m.Create(context.Background(), "u1", "p1", 0, b)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	status, err := m.Validate(context.Background(), l.ID)
	if err != nil || status != models.LockActive {
		t.Fatalf("fresh lock: (%s, %v)", status, err)
	}

	now = now.Add(2 * time.Hour)
	status, err = m.Validate(context.Background(), l.ID)
	if err != nil || status != models.LockExpired {
		t.Fatalf("stale lock: (%s, %v)", status, err)
	}

	// idempotent once expired
	status, err = m.Validate(context.Background(), l.ID)
	if err != nil || status != models.LockExpired {
		t.Fatalf("second validate: (%s, %v)", status, err)
	}

	// expired user+product slot is free again
	putBundle(t, store, "p1", now)
	latest, _ := store.LatestBundle(context.Background(), "p1")
	if _, err := m.Create(context.Background(), "u1", "p1", 0, latest); err != nil {
		t.Fatalf("create after expiry: %v", err)
	}
}

func TestReleaseAndConsume(t *testing.T) {
	store := internalrepo.NewMemoryStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m := newTestManager(store, &now)
	b := putBundle(t, store, "p1", now)

	l1, _ := m.Create(context.Background(), "u1", "p1", 0, b)
	l2, _ := m.Create(context.Background(), "u2", "p1", 0, b)

	status, err := m.Release(context.Background(), l1.ID, "u1")
	if err != nil || status != models.LockReleased {
		t.Fatalf("release: (%s, %v)", status, err)
	}
	status, err = m.Consume(context.Background(), l2.ID, "u2")
	if err != nil || status != models.LockConsumed {
		t.Fatalf("consume: (%s, %v)", status, err)
	}

	// terminal states reject further transitions
	if _, err := m.Release(context.Background(), l1.ID, "u1"); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("double release err = %v, want ErrInvalidState", err)
	}
	if _, err := m.Consume(context.Background(), l1.ID, "u1"); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("consume released err = %v, want ErrInvalidState", err)
	}
}

func TestReleaseWrongOwner(t *testing.T) {
	store := internalrepo.NewMemoryStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m := newTestManager(store, &now)
	b := putBundle(t, store, "p1", now)

	l, _ := m.Create(context.Background(), "u1", "p1", 0, b)
	if _, err := m.Release(context.Background(), l.ID, "u2"); !errors.Is(err, models.ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
}

func TestReleaseAfterExpiry(t *testing.T) {
	store := internalrepo.NewMemoryStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m := newTestManager(store, &now)
	b := putBundle(t, store, "p1", now)

	l, _ := m.Create(context.Background(), "u1", "p1", 0, b)
	now = now.Add(2 * time.Hour)

	if _, err := m.Consume(context.Background(), l.ID, "u1"); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	got, err := m.Get(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.LockExpired {
		t.Fatalf("status = %s, want EXPIRED", got.Status)
	}
}

func TestCreateConcurrentSingleActive(t *testing.T) {
	store := internalrepo.NewMemoryStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m := newTestManager(store, &now)
	b := putBundle(t, store, "p1", now)

	const workers = 16
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Create(context.Background(), "u1", "p1", 0, b)
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, models.ErrConflictingLock):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 || conflicts != workers-1 {
		t.Fatalf("created = %d, conflicts = %d, want 1 and %d", created, conflicts, workers-1)
	}

	active, err := store.ActiveLocks(context.Background())
	if err != nil {
		t.Fatalf("active locks: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active locks, want 1", len(active))
	}
}

type countingMetrics struct {
	mu        sync.Mutex
	conflicts int
}

func (c *countingMetrics) RecordForecastRun(string, float64) {}
func (c *countingMetrics) RecordLockConflict(string) {
	c.mu.Lock()
	c.conflicts++
	c.mu.Unlock()
}
func (c *countingMetrics) RecordLockTransition(string) {}
func (c *countingMetrics) RecordSweep(int)             {}
func (c *countingMetrics) RecordError(string)          {}

type failingLockStore struct {
	*internalrepo.MemoryStore
}

func (failingLockStore) InsertActive(context.Context, *models.PriceLock) error {
	return errors.New("storage offline")
}

func TestConflictCounterOnlyOnConflicts(t *testing.T) {
	store := internalrepo.NewMemoryStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	counters := &countingMetrics{}
	m := NewManager(store, store, nil, counters, Config{TTL: time.Hour},
		WithClock(func() time.Time { return now }))
	b := putBundle(t, store, "p1", now)

	if _, err := m.Create(context.Background(), "u1", "p1", 0, b); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(context.Background(), "u1", "p1", 0, b); !errors.Is(err, models.ErrConflictingLock) {
		t.Fatalf("err = %v, want ErrConflictingLock", err)
	}
	if counters.conflicts != 1 {
		t.Fatalf("conflicts = %d, want 1", counters.conflicts)
	}

	// a store failure is not a conflict
	broken := NewManager(failingLockStore{store}, store, nil, counters, Config{TTL: time.Hour},
		WithClock(func() time.Time { return now }))
	if _, err := broken.Create(context.Background(), "u2", "p1", 0, b); err == nil {
		t.Fatalf("want error from broken store")
	}
	if counters.conflicts != 1 {
		t.Fatalf("conflicts = %d after store failure, want 1", counters.conflicts)
	}
}

func TestSweep(t *testing.T) {
	store := internalrepo.NewMemoryStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m := newTestManager(store, &now)
	b := putBundle(t, store, "p1", now)
	b2 := putBundle(t, store, "p2", now)

	stale, _ := m.Create(context.Background(), "u1", "p1", 0, b)
	now = now.Add(30 * time.Minute)
	fresh, _ := m.Create(context.Background(), "u1", "p2", 0, b2)
	now = now.Add(45 * time.Minute) // stale is past TTL, fresh is not

	expired, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}
	if got, _ := m.Get(context.Background(), stale.ID); got.Status != models.LockExpired {
		t.Fatalf("stale status = %s", got.Status)
	}
	if got, _ := m.Get(context.Background(), fresh.ID); got.Status != models.LockActive {
		t.Fatalf("fresh status = %s", got.Status)
	}

	// sweeping again finds nothing
	if expired, _ := m.Sweep(context.Background()); expired != 0 {
		t.Fatalf("second sweep expired = %d", expired)
	}
}
