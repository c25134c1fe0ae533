package attribution

import (
	"context"
	"math"
	"testing"
	"time"

	"Flowcast/internal/domain/models"
	"Flowcast/internal/services/features"
	"Flowcast/internal/services/forecast"
)

func rankerFixture() (*Ranker, *models.Product, []models.FeatureVector, []models.HistoryPoint) {
	engine := forecast.NewEngine(forecast.NewSeasonalModel(), forecast.Config{})
	product := &models.Product{ID: "p1", BasePrice: 10, Stock: 50, Location: "riga"}

	vectors := make([]models.FeatureVector, 0, models.ForecastDays)
	for day := 0; day < models.ForecastDays; day++ {
		vectors = append(vectors, models.FeatureVector{
			ProductID: "p1",
			DayIndex:  day,
			Features: []models.Feature{
				{Name: features.FeatDemandIndex, Value: 1 + 0.05*float64(day)},
				{Name: features.FeatStockRatio, Value: 0.8},
				{Name: features.FeatDaysToExpiry, Value: float64(20 - day)},
				{Name: features.FeatWeatherScore, Value: 0.5 + 0.1*float64(day)},
				{Name: features.FeatIsHoliday, Value: 0},
				{Name: features.FeatStockExpiryRatio, Value: 50.0 / float64(21-day)},
				{Name: features.FeatWeatherDemandCross, Value: 0.5},
			},
		})
	}

	now := time.Now().UTC()
	history := []models.HistoryPoint{
		{Timestamp: now.Add(-72 * time.Hour), Price: 9, Demand: 10, Stock: 60},
		{Timestamp: now.Add(-48 * time.Hour), Price: 10, Demand: 20, Stock: 50},
		{Timestamp: now.Add(-24 * time.Hour), Price: 11, Demand: 30, Stock: 40},
	}
	return NewRanker(engine), product, vectors, history
}

func TestExplainWeightsSumToOne(t *testing.T) {
	r, product, vectors, history := rankerFixture()

	attrs, err := r.Explain(context.Background(), product, vectors, history)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if len(attrs) != models.ForecastDays {
		t.Fatalf("got %d attributions", len(attrs))
	}
	for _, a := range attrs {
		sum := 0.0
		for _, w := range a.Weights {
			sum += math.Abs(w.Weight)
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Fatalf("day %d |weights| sum = %v, want 1", a.DayIndex, sum)
		}
	}
}

func TestExplainRankedDescending(t *testing.T) {
	r, product, vectors, history := rankerFixture()

	attrs, err := r.Explain(context.Background(), product, vectors, history)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	for _, a := range attrs {
		for i := 1; i < len(a.Weights); i++ {
			if math.Abs(a.Weights[i].Weight) > math.Abs(a.Weights[i-1].Weight)+1e-12 {
				t.Fatalf("day %d not ranked: %v before %v", a.DayIndex, a.Weights[i-1], a.Weights[i])
			}
		}
	}
}

func TestExplainDeterministic(t *testing.T) {
	r, product, vectors, history := rankerFixture()

	a, err := r.Explain(context.Background(), product, vectors, history)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	b, err := r.Explain(context.Background(), product, vectors, history)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	for day := range a {
		for i := range a[day].Weights {
			if a[day].Weights[i] != b[day].Weights[i] {
				t.Fatalf("day %d weight %d differs between identical runs", day, i)
			}
		}
	}
}

func TestExplainEmptyVectors(t *testing.T) {
	r, product, _, history := rankerFixture()
	if _, err := r.Explain(context.Background(), product, nil, history); err == nil {
		t.Fatalf("want error for empty vectors")
	}
}
