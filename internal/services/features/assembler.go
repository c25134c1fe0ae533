package features

import (
	"context"
	"fmt"
	"time"

	"Flowcast/internal/domain/models"
	domrepo "Flowcast/internal/domain/repository"
	domsvc "Flowcast/internal/domain/service"
	applogger "Flowcast/pkg/logger"
)

// Canonical feature names, in vector insertion order. The order doubles as
// the attribution tie-break order.
const (
	FeatDemandIndex        = "demand_index"
	FeatStockRatio         = "stock_ratio"
	FeatDaysToExpiry       = "days_to_expiry"
	FeatWeatherScore       = "weather_score"
	FeatIsHoliday          = "is_holiday"
	FeatStockExpiryRatio   = "stock_expiry_ratio"
	FeatWeatherDemandCross = "weather_demand_interaction"
)

// FeatureOrder is the canonical insertion order of signals in a vector.
var FeatureOrder = []string{
	FeatDemandIndex,
	FeatStockRatio,
	FeatDaysToExpiry,
	FeatWeatherScore,
	FeatIsHoliday,
	FeatStockExpiryRatio,
	FeatWeatherDemandCross,
}

// Config controls history window and retry behavior for environmental
// signals.
type Config struct {
	HistoryWindow time.Duration
	RetryMax      int
	RetryBackoff  time.Duration
}

// Assembler gathers per-product signals into one fixed-shape feature vector
// per forecast day.
type Assembler struct {
	history domrepo.HistoryStore
	weather domsvc.WeatherSource
	holiday domsvc.HolidaySource
	cfg     Config
	l       *applogger.Logger
}

func NewAssembler(history domrepo.HistoryStore, weather domsvc.WeatherSource, holiday domsvc.HolidaySource, cfg Config) *Assembler {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 30 * 24 * time.Hour
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Assembler{history: history, weather: weather, holiday: holiday, cfg: cfg}
}

// SetLogger injects a structured logger.
func (a *Assembler) SetLogger(l *applogger.Logger) { a.l = l }

// Assemble builds models.ForecastDays vectors for the product as of asOf.
// Forward environmental signals that stay unavailable after bounded retries
// fall back to the most recent known value and mark the vector degraded.
// Fails with ErrDataUnavailable only when the product has no history at all.
func (a *Assembler) Assemble(ctx context.Context, product *models.Product, asOf time.Time) ([]models.FeatureVector, []models.HistoryPoint, error) {
	history, err := a.history.GetHistory(ctx, product.ID, a.cfg.HistoryWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("get history: %w", err)
	}
	if len(history) == 0 {
		return nil, nil, fmt.Errorf("product %s: %w", product.ID, models.ErrDataUnavailable)
	}

	demandIndex := demandIndex(history)
	stockRatio := stockRatio(product.Stock, history)
	expiryDays := product.ExpiryDate.Sub(asOf).Hours() / 24
	if expiryDays < 0 {
		expiryDays = 0
	}

	vectors := make([]models.FeatureVector, 0, models.ForecastDays)
	lastWeather := 0.0
	lastHoliday := 0.0

	for day := 0; day < models.ForecastDays; day++ {
		degraded := false
		date := asOf.AddDate(0, 0, day)

		weatherScore, err := a.fetchWeather(ctx, product.Location, day)
		if err != nil {
			if a.l != nil {
				a.l.Warn("assembler weather fallback",
					applogger.String("product", product.ID),
					applogger.Int("day", day),
					applogger.Error(err),
				)
			}
			weatherScore = lastWeather
			degraded = true
		} else {
			lastWeather = weatherScore
		}

		holidayFlag, err := a.fetchHoliday(ctx, product.Location, date)
		if err != nil {
			if a.l != nil {
				a.l.Warn("assembler holiday fallback",
					applogger.String("product", product.ID),
					applogger.Int("day", day),
					applogger.Error(err),
				)
			}
			holidayFlag = lastHoliday
			degraded = true
		} else {
			lastHoliday = holidayFlag
		}

		daysToExpiry := expiryDays - float64(day)
		if daysToExpiry < 0 {
			daysToExpiry = 0
		}

		vectors = append(vectors, models.FeatureVector{
			ProductID: product.ID,
			DayIndex:  day,
			Degraded:  degraded,
			Features: []models.Feature{
				{Name: FeatDemandIndex, Value: demandIndex},
				{Name: FeatStockRatio, Value: stockRatio},
				{Name: FeatDaysToExpiry, Value: daysToExpiry},
				{Name: FeatWeatherScore, Value: weatherScore},
				{Name: FeatIsHoliday, Value: holidayFlag},
				{Name: FeatStockExpiryRatio, Value: float64(product.Stock) / (daysToExpiry + 1)},
				{Name: FeatWeatherDemandCross, Value: weatherScore * demandIndex},
			},
		})
	}

	return vectors, history, nil
}

func (a *Assembler) fetchWeather(ctx context.Context, location string, day int) (float64, error) {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(a.cfg.RetryBackoff << (attempt - 1)):
			}
		}
		score, err := a.weather.DailyScore(ctx, location, day)
		if err == nil {
			return score, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func (a *Assembler) fetchHoliday(ctx context.Context, location string, date time.Time) (float64, error) {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(a.cfg.RetryBackoff << (attempt - 1)):
			}
		}
		flag, err := a.holiday.IsHoliday(ctx, location, date)
		if err == nil {
			if flag {
				return 1, nil
			}
			return 0, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

// demandIndex is the latest demand relative to the window mean.
func demandIndex(history []models.HistoryPoint) float64 {
	demands := make([]float64, 0, len(history))
	for _, p := range history {
		demands = append(demands, p.Demand)
	}
	mean, _ := MeanStd(demands)
	if mean == 0 {
		return 1
	}
	return demands[len(demands)-1] / mean
}

// stockRatio is current stock relative to the largest stock seen in the
// window.
func stockRatio(stock int, history []models.HistoryPoint) float64 {
	maxStock := 1.0
	for _, p := range history {
		if float64(p.Stock) > maxStock {
			maxStock = float64(p.Stock)
		}
	}
	return float64(stock) / maxStock
}
