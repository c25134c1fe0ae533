package forecast

import (
	"fmt"
	"math"

	"Flowcast/internal/domain/models"
	domsvc "Flowcast/internal/domain/service"
	"Flowcast/internal/services/features"
)

// SeasonalModel is the default pre-trained capability: a fixed-weight scoring
// of the assembled signals producing a price multiplier around 1.0.
// Weights mirror the shipped regressor: excess stock, near expiry, bad
// weather and weak demand push the multiplier down; holidays push it up.
type SeasonalModel struct {
	version string
	weights map[string]float64
}

func NewSeasonalModel() *SeasonalModel {
	return &SeasonalModel{
		version: "seasonal-v1",
		weights: map[string]float64{
			features.FeatDemandIndex:        0.10,
			features.FeatStockRatio:         -0.12,
			features.FeatDaysToExpiry:       0.008,
			features.FeatWeatherScore:       -0.015,
			features.FeatIsHoliday:          0.06,
			features.FeatStockExpiryRatio:   -0.002,
			features.FeatWeatherDemandCross: -0.005,
		},
	}
}

func (m *SeasonalModel) Version() string { return m.version }

// Predict returns a multiplier in (0, +inf), squashed so extreme inputs stay
// within a plausible retail band before the engine's clamping.
func (m *SeasonalModel) Predict(v models.FeatureVector) (float64, error) {
	score := 0.0
	for _, f := range v.Features {
		w, ok := m.weights[f.Name]
		if !ok {
			return 0, fmt.Errorf("seasonal model: unknown feature %q", f.Name)
		}
		score += w * f.Value
	}
	// center on 0.85 with a bounded swing of +-0.25
	return 0.85 + 0.25*math.Tanh(score), nil
}

var _ domsvc.PriceModel = (*SeasonalModel)(nil)

// LinearModel is the swappable learned-regressor variant: coefficients and
// intercept come from configuration (exported from an offline training run).
type LinearModel struct {
	version   string
	intercept float64
	coef      map[string]float64
}

func NewLinearModel(version string, intercept float64, coef map[string]float64) *LinearModel {
	return &LinearModel{version: version, intercept: intercept, coef: coef}
}

func (m *LinearModel) Version() string { return m.version }

func (m *LinearModel) Predict(v models.FeatureVector) (float64, error) {
	out := m.intercept
	for _, f := range v.Features {
		out += m.coef[f.Name] * f.Value
	}
	if out < 0 {
		out = 0
	}
	return out, nil
}

var _ domsvc.PriceModel = (*LinearModel)(nil)
