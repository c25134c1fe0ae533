package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"Flowcast/internal/domain/models"
	domrepo "Flowcast/internal/domain/repository"
)

// MemoryStore is the in-process record store backend. It provides the same
// atomicity guarantees the Redis backend gets from SETNX and Lua: conditional
// ACTIVE-lock insert and compare-and-swap status transitions under one mutex,
// and whole-value bundle swaps so readers never observe a half-written
// bundle.
type MemoryStore struct {
	mu sync.RWMutex

	products map[string]*models.Product

	// bundles newest-first per product; attributions keyed by
	// (product, generation)
	bundles      map[string][]*models.ForecastBundle
	attributions map[string][]models.Attribution

	locks       map[string]*models.PriceLock
	activeIndex map[string]string // (user|product) -> lock id

	carts map[string]map[string]*models.CartEntry // user -> product -> entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]*models.Product),
		bundles:      make(map[string][]*models.ForecastBundle),
		attributions: make(map[string][]models.Attribution),
		locks:        make(map[string]*models.PriceLock),
		activeIndex:  make(map[string]string),
		carts:        make(map[string]map[string]*models.CartEntry),
	}
}

// --- ProductStore ---

func (s *MemoryStore) GetProduct(_ context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) PutProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ApplyStockUpdate(_ context.Context, u *models.StockUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[u.ProductID]
	if !ok {
		return fmt.Errorf("product %s: %w", u.ProductID, models.ErrNotFound)
	}
	p.Stock = u.Stock
	if !u.ExpiryDate.IsZero() {
		p.ExpiryDate = u.ExpiryDate
	}
	return nil
}

// --- BundleStore ---

func (s *MemoryStore) PutBundle(_ context.Context, b *models.ForecastBundle) error {
	if len(b.Points) != models.ForecastDays {
		return fmt.Errorf("bundle %s: want %d points, got %d", b.ProductID, models.ForecastDays, len(b.Points))
	}
	cp := *b
	cp.Points = make([]models.ForecastPoint, len(b.Points))
	copy(cp.Points, b.Points)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[b.ProductID] = append([]*models.ForecastBundle{&cp}, s.bundles[b.ProductID]...)
	return nil
}

func (s *MemoryStore) LatestBundle(_ context.Context, productID string) (*models.ForecastBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bs := s.bundles[productID]
	if len(bs) == 0 {
		return nil, fmt.Errorf("bundle %s: %w", productID, models.ErrNotFound)
	}
	return bs[0], nil
}

func (s *MemoryStore) BundleHistory(_ context.Context, productID string, limit int) ([]*models.ForecastBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bs := s.bundles[productID]
	if limit <= 0 || limit > len(bs) {
		limit = len(bs)
	}
	out := make([]*models.ForecastBundle, limit)
	copy(out, bs[:limit])
	return out, nil
}

func (s *MemoryStore) PutAttributions(_ context.Context, productID string, generatedAt time.Time, as []models.Attribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributions[attrKey(productID, generatedAt)] = as
	return nil
}

func (s *MemoryStore) LatestAttributions(_ context.Context, productID string) ([]models.Attribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bs := s.bundles[productID]
	if len(bs) == 0 {
		return nil, fmt.Errorf("attribution %s: %w", productID, models.ErrNotFound)
	}
	as, ok := s.attributions[attrKey(productID, bs[0].GeneratedAt)]
	if !ok {
		return nil, fmt.Errorf("attribution %s: %w", productID, models.ErrNotFound)
	}
	return as, nil
}

func attrKey(productID string, generatedAt time.Time) string {
	return productID + "@" + generatedAt.UTC().Format(time.RFC3339Nano)
}

// --- LockStore ---

func activeKey(userID, productID string) string { return userID + "|" + productID }

// InsertActive is the conditional write: the existing-ACTIVE check and the
// insert happen under one lock, so two concurrent creates cannot both pass.
func (s *MemoryStore) InsertActive(_ context.Context, l *models.PriceLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activeKey(l.UserID, l.ProductID)
	if existingID, ok := s.activeIndex[key]; ok {
		if existing := s.locks[existingID]; existing != nil && existing.Status == models.LockActive {
			return fmt.Errorf("user %s product %s: %w", l.UserID, l.ProductID, models.ErrConflictingLock)
		}
	}

	cp := *l
	s.locks[l.ID] = &cp
	s.activeIndex[key] = l.ID
	return nil
}

func (s *MemoryStore) GetLock(_ context.Context, id string) (*models.PriceLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locks[id]
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", id, models.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

// TransitionStatus is the CAS primitive shared by lazy expiry, the sweep,
// release and consume. Returns false without error when the lock is not in
// the expected from state.
func (s *MemoryStore) TransitionStatus(_ context.Context, id string, from, to models.LockStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		return false, fmt.Errorf("lock %s: %w", id, models.ErrNotFound)
	}
	if l.Status != from {
		return false, nil
	}
	l.Status = to
	if from == models.LockActive {
		key := activeKey(l.UserID, l.ProductID)
		if s.activeIndex[key] == id {
			delete(s.activeIndex, key)
		}
	}
	return true, nil
}

func (s *MemoryStore) ActiveLocks(_ context.Context) ([]*models.PriceLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PriceLock, 0)
	for _, l := range s.locks {
		if l.Status == models.LockActive {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- CartStore ---

func (s *MemoryStore) UpsertEntry(_ context.Context, e *models.CartEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.carts[e.UserID] == nil {
		s.carts[e.UserID] = make(map[string]*models.CartEntry)
	}
	cp := *e
	s.carts[e.UserID][e.ProductID] = &cp
	return nil
}

func (s *MemoryStore) RemoveEntry(_ context.Context, userID, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.carts[userID]
	if !ok {
		return fmt.Errorf("cart %s/%s: %w", userID, productID, models.ErrNotFound)
	}
	if _, ok := entries[productID]; !ok {
		return fmt.Errorf("cart %s/%s: %w", userID, productID, models.ErrNotFound)
	}
	delete(entries, productID)
	return nil
}

func (s *MemoryStore) ListEntries(_ context.Context, userID string) ([]*models.CartEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.carts[userID]
	out := make([]*models.CartEntry, 0, len(entries))
	for _, e := range entries {
		cp := *e
		out = append(out, &cp)
	}
	sortEntriesByAddedAt(out)
	return out, nil
}

func sortEntriesByAddedAt(entries []*models.CartEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].AddedAt.Before(entries[j].AddedAt) })
}

var (
	_ domrepo.ProductStore = (*MemoryStore)(nil)
	_ domrepo.BundleStore  = (*MemoryStore)(nil)
	_ domrepo.LockStore    = (*MemoryStore)(nil)
	_ domrepo.CartStore    = (*MemoryStore)(nil)
)

// MemoryHistoryStore is the in-process HistoryStore used when no ClickHouse
// backend is configured (dev mode, tests).
type MemoryHistoryStore struct {
	mu     sync.RWMutex
	points map[string][]models.HistoryPoint
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{points: make(map[string][]models.HistoryPoint)}
}

func (s *MemoryHistoryStore) GetHistory(_ context.Context, productID string, window time.Duration) ([]models.HistoryPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	since := time.Now().UTC().Add(-window)
	out := make([]models.HistoryPoint, 0)
	for _, p := range s.points[productID] {
		if p.Timestamp.Before(since) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryHistoryStore) AppendHistory(_ context.Context, productID string, pts []models.HistoryPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[productID] = append(s.points[productID], pts...)
	return nil
}

func (s *MemoryHistoryStore) Health(context.Context) error { return nil }
func (s *MemoryHistoryStore) Close() error                 { return nil }

var _ domrepo.HistoryStore = (*MemoryHistoryStore)(nil)
