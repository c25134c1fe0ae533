package features

import (
	"math"
	"testing"
	"time"

	"Flowcast/internal/domain/models"
)

func TestMeanStd(t *testing.T) {
	mean, sd := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(mean-5) > 1e-9 {
		t.Fatalf("mean = %v, want 5", mean)
	}
	if math.Abs(sd-2.138089935) > 1e-6 {
		t.Fatalf("sd = %v", sd)
	}
}

func TestMeanStdShort(t *testing.T) {
	if mean, sd := MeanStd(nil); mean != 0 || sd != 0 {
		t.Fatalf("empty series: got (%v, %v)", mean, sd)
	}
	if mean, sd := MeanStd([]float64{3}); mean != 3 || sd != 0 {
		t.Fatalf("single point: got (%v, %v)", mean, sd)
	}
}

func TestRollingStd(t *testing.T) {
	xs := []float64{10, 10, 10, 1, 2, 3}
	got := RollingStd(xs, 3)
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("rolling sd = %v, want 1", got)
	}
	if RollingStd(xs, 10) != 0 {
		t.Fatalf("window larger than series should yield 0")
	}
}

func TestObservedRangesWidensDayConstants(t *testing.T) {
	now := time.Now()
	history := []models.HistoryPoint{
		{Timestamp: now.Add(-48 * time.Hour), Price: 10, Demand: 5, Stock: 100},
		{Timestamp: now.Add(-24 * time.Hour), Price: 11, Demand: 15, Stock: 50},
	}
	vectors := []models.FeatureVector{
		{DayIndex: 0, Features: []models.Feature{
			{Name: FeatDemandIndex, Value: 1.5},
			{Name: FeatIsHoliday, Value: 0},
		}},
		{DayIndex: 1, Features: []models.Feature{
			{Name: FeatDemandIndex, Value: 1.5},
			{Name: FeatIsHoliday, Value: 0},
		}},
	}

	ranges := ObservedRanges(history, vectors)

	// demand_index is constant across days but history (5 vs 15 around mean
	// 10) widens it to [0.5, 1.5]
	r := ranges[FeatDemandIndex]
	if math.Abs(r[0]-0.5) > 1e-9 || math.Abs(r[1]-1.5) > 1e-9 {
		t.Fatalf("demand range = %v", r)
	}

	// is_holiday always spans its full domain
	if h := ranges[FeatIsHoliday]; h[0] != 0 || h[1] != 1 {
		t.Fatalf("holiday range = %v", h)
	}
}
