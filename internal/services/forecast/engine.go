package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"Flowcast/internal/domain/models"
	domsvc "Flowcast/internal/domain/service"
	"Flowcast/internal/services/features"
	applogger "Flowcast/pkg/logger"
)

// Config holds the engine's statistical knobs.
type Config struct {
	// MinMultiplier floors the forecast at MinMultiplier * base price.
	MinMultiplier float64
	// Z is the confidence interval z-score applied to the volatility band.
	Z float64
	// HorizonGrowth widens the interval per day of forecast horizon.
	HorizonGrowth float64
	// VolatilityWindow is the rolling window (points) for the band.
	VolatilityWindow int
	// MinHistory is the minimum history length for a full-confidence band.
	MinHistory int
	// VolatilityFloor is the fallback band under MinHistory.
	VolatilityFloor float64
}

func (c *Config) applyDefaults() {
	if c.MinMultiplier <= 0 {
		c.MinMultiplier = 0.60
	}
	if c.Z <= 0 {
		c.Z = 1.28
	}
	if c.HorizonGrowth <= 0 {
		c.HorizonGrowth = 0.08
	}
	if c.VolatilityWindow <= 0 {
		c.VolatilityWindow = 7
	}
	if c.MinHistory <= 0 {
		c.MinHistory = 3
	}
	if c.VolatilityFloor <= 0 {
		c.VolatilityFloor = 0.5
	}
}

// Engine turns feature vectors into a bounded price forecast with confidence
// bands. Deterministic given (model version, vectors, history): two runs over
// identical inputs produce identical bundles up to the generation timestamp.
type Engine struct {
	model domsvc.PriceModel
	cfg   Config
	l     *applogger.Logger
}

func NewEngine(model domsvc.PriceModel, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{model: model, cfg: cfg}
}

// SetLogger injects a structured logger.
func (e *Engine) SetLogger(l *applogger.Logger) { e.l = l }

// ModelVersion exposes the underlying model's version tag.
func (e *Engine) ModelVersion() string { return e.model.Version() }

// PricePoint predicts the clamped price for a single vector. Used by the
// attribution ranker for model-agnostic perturbation.
func (e *Engine) PricePoint(product *models.Product, v models.FeatureVector) (float64, error) {
	mult, err := e.model.Predict(v)
	if err != nil {
		return 0, fmt.Errorf("model predict: %w", err)
	}
	return e.clampPrice(product, v, mult), nil
}

// clampPrice applies the pricing guardrails: perishables forecast zero once
// expired; otherwise the price stays within [MinMultiplier*base, base] and is
// never negative.
func (e *Engine) clampPrice(product *models.Product, v models.FeatureVector, mult float64) float64 {
	if product.Perishable {
		if d, ok := v.Get(features.FeatDaysToExpiry); ok && d <= 0 {
			return 0
		}
	}
	price := mult * product.BasePrice
	if price > product.BasePrice {
		price = product.BasePrice
	}
	floor := e.cfg.MinMultiplier * product.BasePrice
	if price < floor {
		price = floor
	}
	if price < 0 {
		price = 0
	}
	return price
}

// Predict produces the bundle for one product from exactly
// models.ForecastDays assembled vectors.
func (e *Engine) Predict(ctx context.Context, product *models.Product, vectors []models.FeatureVector, history []models.HistoryPoint, asOf time.Time) (*models.ForecastBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vectors) != models.ForecastDays {
		return nil, fmt.Errorf("predict: want %d vectors, got %d", models.ForecastDays, len(vectors))
	}
	for i, v := range vectors {
		if v.DayIndex != i {
			return nil, fmt.Errorf("predict: vector %d has day index %d", i, v.DayIndex)
		}
	}

	band, lowConfidence := e.volatilityBand(history)

	points := make([]models.ForecastPoint, 0, models.ForecastDays)
	for day, v := range vectors {
		mult, err := e.model.Predict(v)
		if err != nil {
			return nil, fmt.Errorf("model predict day %d: %w", day, err)
		}
		price := e.clampPrice(product, v, mult)

		halfWidth := e.cfg.Z * band * (1 + e.cfg.HorizonGrowth*float64(day))
		lo := price - halfWidth
		if lo < 0 {
			lo = 0
		}
		points = append(points, models.ForecastPoint{
			ProductID:  product.ID,
			DayIndex:   day,
			Day:        asOf.AddDate(0, 0, day),
			Price:      price,
			IntervalLo: lo,
			IntervalHi: price + halfWidth,
			Volatility: band,
		})
	}

	// Interval widths must never shrink with horizon, even if clamping at
	// zero narrowed an early-day interval less than a later one. Widen
	// post-hoc.
	for i := 1; i < len(points); i++ {
		if points[i].Width() < points[i-1].Width() {
			deficit := points[i-1].Width() - points[i].Width()
			points[i].IntervalHi += deficit
		}
	}

	mean, sd := features.MeanStd(features.Prices(history))
	ratio := 0.0
	if mean > 0 {
		ratio = sd / mean
	}

	bundle := &models.ForecastBundle{
		ProductID:       product.ID,
		GeneratedAt:     time.Now().UTC(),
		ModelVersion:    e.model.Version(),
		Points:          points,
		LowConfidence:   lowConfidence,
		HighVolatility:  ratio > 0.3,
		ConfidenceLabel: confidenceLabel(ratio),
	}

	if e.l != nil {
		e.l.Info("forecast produced",
			applogger.String("product", product.ID),
			applogger.String("model", e.model.Version()),
			applogger.Bool("low_confidence", lowConfidence),
			applogger.Bool("high_volatility", bundle.HighVolatility),
		)
	}
	return bundle, nil
}

// volatilityBand derives the band from the rolling standard deviation of the
// historical price series. Under MinHistory points the band falls back to
// max(floor, naive single-point estimate) and the bundle is tagged
// low_confidence.
func (e *Engine) volatilityBand(history []models.HistoryPoint) (float64, bool) {
	prices := features.Prices(history)
	if len(prices) < e.cfg.MinHistory {
		naive := 0.0
		if len(prices) >= 2 {
			naive = math.Abs(prices[len(prices)-1] - prices[len(prices)-2])
		}
		return math.Max(e.cfg.VolatilityFloor, naive), true
	}
	window := e.cfg.VolatilityWindow
	if window > len(prices) {
		window = len(prices)
	}
	sd := features.RollingStd(prices, window)
	if sd < e.cfg.VolatilityFloor {
		sd = e.cfg.VolatilityFloor
	}
	return sd, false
}

// confidenceLabel maps the volatility ratio onto the coarse display tiers.
func confidenceLabel(ratio float64) string {
	switch {
	case ratio < 0.05:
		return "~95%"
	case ratio < 0.1:
		return "~90%"
	case ratio < 0.2:
		return "~80%"
	case ratio < 0.3:
		return "~70%"
	case ratio < 0.4:
		return "~60%"
	case ratio < 0.5:
		return "~50%"
	default:
		return "~40%"
	}
}
