package features

import (
	"math"

	"Flowcast/internal/domain/models"
)

// Prices extracts the price series from a history window.
func Prices(pts []models.HistoryPoint) []float64 {
	out := make([]float64, 0, len(pts))
	for _, p := range pts {
		out = append(out, p.Price)
	}
	return out
}

// MeanStd computes mean and sample standard deviation of xs.
// Returns (0, 0) for fewer than 2 points.
func MeanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	sum2 := 0.0
	for _, x := range xs {
		d := x - mean
		sum2 += d * d
	}
	variance := sum2 / float64(len(xs)-1)
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// RollingStd computes the standard deviation over the trailing window of xs.
// Returns 0 if the window does not fit.
func RollingStd(xs []float64, window int) float64 {
	if window <= 1 || len(xs) < window {
		return 0
	}
	_, sd := MeanStd(xs[len(xs)-window:])
	return sd
}

// MinMax returns the smallest and largest value in xs.
func MinMax(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

// ObservedRanges returns, per feature name, the [min, max] observed across
// the assembled vectors, widened by the historical demand and stock record so
// that day-constant signals still have a real perturbation range.
func ObservedRanges(history []models.HistoryPoint, vectors []models.FeatureVector) map[string][2]float64 {
	ranges := make(map[string][2]float64)
	for _, v := range vectors {
		for _, f := range v.Features {
			r, ok := ranges[f.Name]
			if !ok {
				ranges[f.Name] = [2]float64{f.Value, f.Value}
				continue
			}
			if f.Value < r[0] {
				r[0] = f.Value
			}
			if f.Value > r[1] {
				r[1] = f.Value
			}
			ranges[f.Name] = r
		}
	}

	if len(history) > 0 {
		demands := make([]float64, 0, len(history))
		stocks := make([]float64, 0, len(history))
		for _, p := range history {
			demands = append(demands, p.Demand)
			stocks = append(stocks, float64(p.Stock))
		}
		widen(ranges, FeatDemandIndex, normRange(demands))
		widen(ranges, FeatStockRatio, normRange(stocks))
	}
	// is_holiday always perturbs across its full domain
	widen(ranges, FeatIsHoliday, [2]float64{0, 1})
	return ranges
}

// normRange maps a raw series to its range relative to the series mean.
func normRange(xs []float64) [2]float64 {
	mean, _ := MeanStd(xs)
	lo, hi := MinMax(xs)
	if mean == 0 {
		return [2]float64{0, 0}
	}
	return [2]float64{lo / mean, hi / mean}
}

func widen(ranges map[string][2]float64, name string, r [2]float64) {
	cur, ok := ranges[name]
	if !ok {
		ranges[name] = r
		return
	}
	if r[0] < cur[0] {
		cur[0] = r[0]
	}
	if r[1] > cur[1] {
		cur[1] = r[1]
	}
	ranges[name] = cur
}
