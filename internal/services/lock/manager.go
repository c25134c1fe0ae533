package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"Flowcast/internal/domain/models"
	domrepo "Flowcast/internal/domain/repository"
	applogger "Flowcast/pkg/logger"
)

// Config controls lock lifetime.
type Config struct {
	TTL time.Duration
}

// Option configures Manager.
type Option func(*Manager)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the price lock lifecycle: ACTIVE -> {EXPIRED, RELEASED,
// CONSUMED}, all terminal. Uniqueness of the ACTIVE lock per (user, product)
// is enforced by the store's conditional insert; every status change goes
// through the store's compare-and-swap so lazy expiry and the periodic sweep
// cannot double-process.
type Manager struct {
	locks   domrepo.LockStore
	bundles domrepo.BundleStore
	audit   domrepo.AuditPublisher
	metrics domrepo.Metrics
	cfg     Config
	now     func() time.Time
	l       *applogger.Logger
}

func NewManager(locks domrepo.LockStore, bundles domrepo.BundleStore, audit domrepo.AuditPublisher, metrics domrepo.Metrics, cfg Config, opts ...Option) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	m := &Manager{
		locks:   locks,
		bundles: bundles,
		audit:   audit,
		metrics: metrics,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetLogger injects a structured logger.
func (m *Manager) SetLogger(l *applogger.Logger) { m.l = l }

// Create reserves the price of one forecast day for a user. The bundle must
// be the latest generation for the product (ErrStaleForecast otherwise) and
// the user must not already hold an ACTIVE lock on the product
// (ErrConflictingLock). The point's price and interval are copied into the
// lock as an immutable snapshot.
func (m *Manager) Create(ctx context.Context, userID, productID string, dayIndex int, bundle *models.ForecastBundle) (*models.PriceLock, error) {
	if dayIndex < 0 || dayIndex >= len(bundle.Points) {
		return nil, fmt.Errorf("day index %d out of range", dayIndex)
	}

	latest, err := m.bundles.LatestBundle(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("latest bundle: %w", err)
	}
	if !latest.GeneratedAt.Equal(bundle.GeneratedAt) || latest.ModelVersion != bundle.ModelVersion {
		return nil, fmt.Errorf("bundle %s generated %s superseded: %w",
			productID, bundle.GeneratedAt.Format(time.RFC3339), models.ErrStaleForecast)
	}

	point := bundle.Points[dayIndex]
	now := m.now().UTC()
	l := &models.PriceLock{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProductID:   productID,
		DayIndex:    dayIndex,
		Price:       point.Price,
		IntervalLo:  point.IntervalLo,
		IntervalHi:  point.IntervalHi,
		BundleStamp: bundle.GeneratedAt,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.cfg.TTL),
		Status:      models.LockActive,
	}

	if err := m.locks.InsertActive(ctx, l); err != nil {
		if m.metrics != nil && errors.Is(err, models.ErrConflictingLock) {
			m.metrics.RecordLockConflict(productID)
		}
		return nil, fmt.Errorf("insert lock: %w", err)
	}

	m.publish(ctx, "lock_created", l)
	if m.metrics != nil {
		m.metrics.RecordLockTransition(string(models.LockActive))
	}
	if m.l != nil {
		m.l.Info("lock created",
			applogger.String("lock", l.ID),
			applogger.String("user", userID),
			applogger.String("product", productID),
			applogger.Int("day", dayIndex),
		)
	}
	return l, nil
}

// Validate returns the lock's current status, lazily transitioning
// ACTIVE->EXPIRED when past expiry. Idempotent with the periodic sweep.
func (m *Manager) Validate(ctx context.Context, lockID string) (models.LockStatus, error) {
	l, err := m.locks.GetLock(ctx, lockID)
	if err != nil {
		return "", fmt.Errorf("get lock: %w", err)
	}
	if l.Status == models.LockActive && m.now().After(l.ExpiresAt) {
		if err := m.attemptExpire(ctx, l); err != nil {
			return "", err
		}
		return models.LockExpired, nil
	}
	return l.Status, nil
}

// Get returns the lock after lazy expiry evaluation.
func (m *Manager) Get(ctx context.Context, lockID string) (*models.PriceLock, error) {
	status, err := m.Validate(ctx, lockID)
	if err != nil {
		return nil, err
	}
	l, err := m.locks.GetLock(ctx, lockID)
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	l.Status = status
	return l, nil
}

// Release transitions an ACTIVE lock to RELEASED (abandoned by the user).
func (m *Manager) Release(ctx context.Context, lockID, userID string) (models.LockStatus, error) {
	return m.finish(ctx, lockID, userID, models.LockReleased)
}

// Consume transitions an ACTIVE lock to CONSUMED (purchase honored the
// locked price). Kept distinct from RELEASED so the audit trail separates
// honored from abandoned locks.
func (m *Manager) Consume(ctx context.Context, lockID, userID string) (models.LockStatus, error) {
	return m.finish(ctx, lockID, userID, models.LockConsumed)
}

func (m *Manager) finish(ctx context.Context, lockID, userID string, to models.LockStatus) (models.LockStatus, error) {
	l, err := m.locks.GetLock(ctx, lockID)
	if err != nil {
		return "", fmt.Errorf("get lock: %w", err)
	}
	if l.UserID != userID {
		return "", fmt.Errorf("lock %s owned by another user: %w", lockID, models.ErrNotOwner)
	}
	if l.Status == models.LockActive && m.now().After(l.ExpiresAt) {
		if err := m.attemptExpire(ctx, l); err != nil {
			return "", err
		}
		return "", fmt.Errorf("lock %s expired: %w", lockID, models.ErrInvalidState)
	}
	if l.Status.Terminal() {
		return "", fmt.Errorf("lock %s is %s: %w", lockID, l.Status, models.ErrInvalidState)
	}

	ok, err := m.locks.TransitionStatus(ctx, lockID, models.LockActive, to)
	if err != nil {
		return "", fmt.Errorf("transition lock: %w", err)
	}
	if !ok {
		// lost the race to another transition
		return "", fmt.Errorf("lock %s already transitioned: %w", lockID, models.ErrInvalidState)
	}

	l.Status = to
	m.publish(ctx, "lock_"+lowered(to), l)
	if m.metrics != nil {
		m.metrics.RecordLockTransition(string(to))
	}
	if m.l != nil {
		m.l.Info("lock finished",
			applogger.String("lock", lockID),
			applogger.String("status", string(to)),
		)
	}
	return to, nil
}

// Sweep batches ACTIVE->EXPIRED transitions for all locks past expiry. Safe
// to run concurrently with reads and lazy expiry: the CAS makes
// double-processing a no-op.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	active, err := m.locks.ActiveLocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active locks: %w", err)
	}
	now := m.now()
	expired := 0
	for _, l := range active {
		if !now.After(l.ExpiresAt) {
			continue
		}
		if err := m.attemptExpire(ctx, l); err != nil {
			if m.l != nil {
				m.l.Warn("sweep expire error", applogger.String("lock", l.ID), applogger.Error(err))
			}
			continue
		}
		expired++
	}
	if m.metrics != nil {
		m.metrics.RecordSweep(expired)
	}
	if m.l != nil && expired > 0 {
		m.l.Info("lock sweep", applogger.Int("expired", expired))
	}
	return expired, nil
}

// attemptExpire is the single shared expiry primitive. A lost CAS means some
// other path already moved the lock, which is fine.
func (m *Manager) attemptExpire(ctx context.Context, l *models.PriceLock) error {
	ok, err := m.locks.TransitionStatus(ctx, l.ID, models.LockActive, models.LockExpired)
	if err != nil {
		return fmt.Errorf("expire lock: %w", err)
	}
	if ok {
		l.Status = models.LockExpired
		m.publish(ctx, "lock_expired", l)
		if m.metrics != nil {
			m.metrics.RecordLockTransition(string(models.LockExpired))
		}
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, kind string, l *models.PriceLock) {
	if m.audit == nil {
		return
	}
	err := m.audit.Publish(ctx, &models.AuditEvent{
		Kind:      kind,
		ProductID: l.ProductID,
		UserID:    l.UserID,
		LockID:    l.ID,
		Price:     l.Price,
		Timestamp: m.now().UTC(),
	})
	if err != nil && m.l != nil {
		m.l.Warn("audit publish error", applogger.String("kind", kind), applogger.Error(err))
	}
}

func lowered(s models.LockStatus) string {
	switch s {
	case models.LockReleased:
		return "released"
	case models.LockConsumed:
		return "consumed"
	case models.LockExpired:
		return "expired"
	default:
		return "active"
	}
}
