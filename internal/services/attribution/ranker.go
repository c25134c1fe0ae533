package attribution

import (
	"context"
	"fmt"
	"math"
	"sort"

	"Flowcast/internal/domain/models"
	"Flowcast/internal/services/features"
	"Flowcast/internal/services/forecast"
	applogger "Flowcast/pkg/logger"
)

// sweepSteps is the number of evenly spaced samples taken across a feature's
// observed range when measuring its marginal effect.
const sweepSteps = 5

// Ranker produces a ranked, reproducible, model-agnostic explanation per
// forecast day by perturbing one feature at a time across its observed
// historical range and measuring the engine's predicted-price delta.
type Ranker struct {
	engine *forecast.Engine
	l      *applogger.Logger
}

func NewRanker(engine *forecast.Engine) *Ranker {
	return &Ranker{engine: engine}
}

// SetLogger injects a structured logger.
func (r *Ranker) SetLogger(l *applogger.Logger) { r.l = l }

// Explain computes one Attribution per vector. Absolute weights are
// normalized to sum 1.0; equal-magnitude ties keep the feature's insertion
// order in the vector.
func (r *Ranker) Explain(ctx context.Context, product *models.Product, vectors []models.FeatureVector, history []models.HistoryPoint) ([]models.Attribution, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("explain: %w", models.ErrDataUnavailable)
	}
	ranges := features.ObservedRanges(history, vectors)

	out := make([]models.Attribution, 0, len(vectors))
	for _, v := range vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		weights, err := r.explainDay(product, v, ranges)
		if err != nil {
			return nil, fmt.Errorf("explain day %d: %w", v.DayIndex, err)
		}
		out = append(out, models.Attribution{
			ProductID: product.ID,
			DayIndex:  v.DayIndex,
			Weights:   weights,
		})
	}
	return out, nil
}

func (r *Ranker) explainDay(product *models.Product, v models.FeatureVector, ranges map[string][2]float64) ([]models.AttributionWeight, error) {
	type scored struct {
		weight models.AttributionWeight
		order  int
	}
	raw := make([]scored, 0, len(v.Features))

	for order, f := range v.Features {
		rng := ranges[f.Name]
		w, err := r.marginalDelta(product, v, f.Name, rng)
		if err != nil {
			return nil, err
		}
		raw = append(raw, scored{
			weight: models.AttributionWeight{Feature: f.Name, Weight: w},
			order:  order,
		})
	}

	total := 0.0
	for _, s := range raw {
		total += math.Abs(s.weight.Weight)
	}
	if total == 0 {
		// perfectly flat response: spread weight uniformly so the sum
		// invariant still holds
		uniform := 1.0 / float64(len(raw))
		for i := range raw {
			raw[i].weight.Weight = uniform
		}
	} else {
		for i := range raw {
			raw[i].weight.Weight /= total
		}
	}

	// rank by |weight| descending; stable sort keeps insertion order on ties
	sort.SliceStable(raw, func(i, j int) bool {
		return math.Abs(raw[i].weight.Weight) > math.Abs(raw[j].weight.Weight)
	})

	weights := make([]models.AttributionWeight, 0, len(raw))
	for _, s := range raw {
		weights = append(weights, s.weight)
	}
	return weights, nil
}

// marginalDelta holds every other feature at its assembled value, sweeps the
// target across [lo, hi], and returns the signed price spread: magnitude is
// the max-min over the sweep, sign follows the low-to-high endpoint
// direction.
func (r *Ranker) marginalDelta(product *models.Product, v models.FeatureVector, name string, rng [2]float64) (float64, error) {
	lo, hi := rng[0], rng[1]
	if lo == hi {
		return 0, nil
	}

	minPrice := math.Inf(1)
	maxPrice := math.Inf(-1)
	var atLo, atHi float64
	for step := 0; step < sweepSteps; step++ {
		value := lo + (hi-lo)*float64(step)/float64(sweepSteps-1)
		price, err := r.engine.PricePoint(product, v.Set(name, value))
		if err != nil {
			return 0, err
		}
		if step == 0 {
			atLo = price
		}
		if step == sweepSteps-1 {
			atHi = price
		}
		if price < minPrice {
			minPrice = price
		}
		if price > maxPrice {
			maxPrice = price
		}
	}

	spread := maxPrice - minPrice
	if atHi < atLo {
		spread = -spread
	}
	return spread, nil
}
