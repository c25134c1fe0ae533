package models

import "time"

// ForecastDays is the fixed forecast horizon per product.
const ForecastDays = 10

// Product is a catalog item. Stock and expiry are refreshed by the external
// inventory collaborator; the rest is immutable.
type Product struct {
	ID         string    `json:"id"`
	Category   string    `json:"category"`
	Perishable bool      `json:"perishable"`
	Stock      int       `json:"stock"`
	ExpiryDate time.Time `json:"expiry_date"`
	BasePrice  float64   `json:"base_price"`
	Location   string    `json:"location"`
}

// HistoryPoint is one observation of a product's trailing record.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Demand    float64   `json:"demand"`
	Stock     int       `json:"stock"`
}

// Feature is a single named signal. Order of features inside a vector is
// significant: it is the tie-break order for attribution ranking.
type Feature struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// FeatureVector holds the model inputs for one (product, day).
// Degraded marks vectors where a forward signal was unavailable and the most
// recent known value was substituted.
type FeatureVector struct {
	ProductID string    `json:"product_id"`
	DayIndex  int       `json:"day_index"`
	Features  []Feature `json:"features"`
	Degraded  bool      `json:"degraded"`
}

// Get returns the value of a named feature.
func (v FeatureVector) Get(name string) (float64, bool) {
	for _, f := range v.Features {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Set replaces a named feature value, preserving order.
func (v FeatureVector) Set(name string, value float64) FeatureVector {
	out := v
	out.Features = make([]Feature, len(v.Features))
	copy(out.Features, v.Features)
	for i := range out.Features {
		if out.Features[i].Name == name {
			out.Features[i].Value = value
		}
	}
	return out
}

// ForecastPoint is one day of a bundle. Immutable once produced.
type ForecastPoint struct {
	ProductID  string    `json:"product_id"`
	DayIndex   int       `json:"day_index"`
	Day        time.Time `json:"day"`
	Price      float64   `json:"price"`
	IntervalLo float64   `json:"interval_lo"`
	IntervalHi float64   `json:"interval_hi"`
	Volatility float64   `json:"volatility"`
}

// Width returns the confidence interval width.
func (p ForecastPoint) Width() float64 { return p.IntervalHi - p.IntervalLo }

// ForecastBundle is the output of one model run: exactly ForecastDays points
// with strictly increasing day indices and no gaps.
type ForecastBundle struct {
	ProductID     string          `json:"product_id"`
	GeneratedAt   time.Time       `json:"generated_at"`
	ModelVersion  string          `json:"model_version"`
	Points        []ForecastPoint `json:"points"`
	LowConfidence bool            `json:"low_confidence"`
	HighVolatility bool           `json:"high_volatility"`
	// ConfidenceLabel is a coarse display label derived from the
	// volatility ratio (~95% down to ~40%).
	ConfidenceLabel string `json:"confidence_label"`
}

// AttributionWeight is one (feature, signed contribution) pair.
type AttributionWeight struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// Attribution is the ranked explanation for one forecast day. Absolute
// weights sum to 1.0.
type Attribution struct {
	ProductID string              `json:"product_id"`
	DayIndex  int                 `json:"day_index"`
	Weights   []AttributionWeight `json:"weights"`
}

// LockStatus is the lifecycle state of a PriceLock. ACTIVE is the only
// non-terminal state.
type LockStatus string

const (
	LockActive   LockStatus = "ACTIVE"
	LockExpired  LockStatus = "EXPIRED"
	LockReleased LockStatus = "RELEASED"
	LockConsumed LockStatus = "CONSUMED"
)

// Terminal reports whether the status admits no further transitions.
func (s LockStatus) Terminal() bool { return s != LockActive }

// PriceLock is a user's time-bounded reservation of one forecasted day's
// price. Price and interval are snapshots taken at lock time and never change
// even when a newer bundle supersedes the one locked against.
type PriceLock struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ProductID   string     `json:"product_id"`
	DayIndex    int        `json:"day_index"`
	Price       float64    `json:"price"`
	IntervalLo  float64    `json:"interval_lo"`
	IntervalHi  float64    `json:"interval_hi"`
	BundleStamp time.Time  `json:"bundle_stamp"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Status      LockStatus `json:"status"`
}

// CartEntry holds a user's cart line. LockID is a weak reference: the entry
// survives the lock leaving ACTIVE, only the price resolution changes.
type CartEntry struct {
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	LockID    string    `json:"lock_id,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

// PricedCartEntry is a cart entry with its read-time effective price.
type PricedCartEntry struct {
	CartEntry
	EffectivePrice float64    `json:"effective_price"`
	LockStatus     LockStatus `json:"lock_status,omitempty"`
	PriceSource    string     `json:"price_source"` // "lock" or "forecast"
}

// CartView is the list response: entries plus the cheapest common day across
// all carted products (quantity-weighted).
type CartView struct {
	UserID       string            `json:"user_id"`
	Entries      []PricedCartEntry `json:"entries"`
	Total        float64           `json:"total"`
	BestBuyDay   *time.Time        `json:"best_buy_day,omitempty"`
	BestBuyTotal float64           `json:"best_buy_total,omitempty"`
}

// AuditEvent is published to the audit trail for every lock transition and
// forecast run.
type AuditEvent struct {
	Kind      string    `json:"kind"`
	ProductID string    `json:"product_id"`
	UserID    string    `json:"user_id,omitempty"`
	LockID    string    `json:"lock_id,omitempty"`
	Price     float64   `json:"price,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StockUpdate is one message from the inventory stream.
type StockUpdate struct {
	ProductID  string    `json:"product_id"`
	Stock      int       `json:"stock"`
	ExpiryDate time.Time `json:"expiry_date"`
	Timestamp  int64     `json:"timestamp"`
}
