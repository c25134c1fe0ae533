package repository

import (
	"context"
	"time"

	"Flowcast/internal/domain/models"
)

// ProductStore is the product catalog. Stock and expiry are refreshed by the
// inventory stream collector.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	PutProduct(ctx context.Context, p *models.Product) error
	ApplyStockUpdate(ctx context.Context, u *models.StockUpdate) error
}

// HistoryStore serves the trailing (timestamp, price, demand, stock) record
// per product.
type HistoryStore interface {
	GetHistory(ctx context.Context, productID string, window time.Duration) ([]models.HistoryPoint, error)
	AppendHistory(ctx context.Context, productID string, pts []models.HistoryPoint) error
	Health(ctx context.Context) error
	Close() error
}

// BundleStore owns forecast bundles. Put must be atomic: readers see either
// the previous bundle or the complete new one, never a partial write. Only
// the latest bundle per product is authoritative for new locks; past bundles
// stay readable for audit.
type BundleStore interface {
	PutBundle(ctx context.Context, b *models.ForecastBundle) error
	LatestBundle(ctx context.Context, productID string) (*models.ForecastBundle, error)
	BundleHistory(ctx context.Context, productID string, limit int) ([]*models.ForecastBundle, error)
	PutAttributions(ctx context.Context, productID string, generatedAt time.Time, as []models.Attribution) error
	LatestAttributions(ctx context.Context, productID string) ([]models.Attribution, error)
}

// LockStore persists price locks. InsertActive is the storage-level
// conditional write: it must atomically fail with ErrConflictingLock when an
// ACTIVE lock already exists for (user, product). TransitionStatus is a
// compare-and-swap on status; both lazy expiry and the periodic sweep go
// through it.
type LockStore interface {
	InsertActive(ctx context.Context, l *models.PriceLock) error
	GetLock(ctx context.Context, id string) (*models.PriceLock, error)
	TransitionStatus(ctx context.Context, id string, from, to models.LockStatus) (bool, error)
	ActiveLocks(ctx context.Context) ([]*models.PriceLock, error)
}

// CartStore persists cart entries keyed by (user, product).
type CartStore interface {
	UpsertEntry(ctx context.Context, e *models.CartEntry) error
	RemoveEntry(ctx context.Context, userID, productID string) error
	ListEntries(ctx context.Context, userID string) ([]*models.CartEntry, error)
}

// InventoryStream is the external inventory collaborator's push channel for
// stock/expiry updates.
type InventoryStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.StockUpdate, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// AuditPublisher records lock transitions and forecast runs. Best effort:
// callers log publish failures but do not fail the operation.
type AuditPublisher interface {
	Publish(ctx context.Context, e *models.AuditEvent) error
	Close() error
}

// Metrics abstracts operational counters so services stay decoupled from the
// metrics backend.
type Metrics interface {
	RecordForecastRun(productID string, seconds float64)
	RecordLockConflict(productID string)
	RecordLockTransition(to string)
	RecordSweep(expired int)
	RecordError(kind string)
}
