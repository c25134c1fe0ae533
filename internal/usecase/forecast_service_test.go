package usecase

import (
	"context"
	"testing"
	"time"

	"Flowcast/internal/domain/models"
	internalrepo "Flowcast/internal/repository"
	"Flowcast/internal/services/attribution"
	"Flowcast/internal/services/features"
	"Flowcast/internal/services/forecast"
)

type staticWeather struct{}

func (staticWeather) DailyScore(context.Context, string, int) (float64, error) { return 0.5, nil }

type staticHoliday struct{}

func (staticHoliday) IsHoliday(context.Context, string, time.Time) (bool, error) { return false, nil }

func newTestService(t *testing.T) (*ForecastService, *internalrepo.MemoryStore) {
	t.Helper()
	store := internalrepo.NewMemoryStore()
	history := internalrepo.NewMemoryHistoryStore()

	now := time.Now().UTC()
	pts := make([]models.HistoryPoint, 0, 10)
	for i := 0; i < 10; i++ {
		pts = append(pts, models.HistoryPoint{
			Timestamp: now.Add(-time.Duration(10-i) * 24 * time.Hour),
			Price:     10 + float64(i%3),
			Demand:    20 + float64(i),
			Stock:     100 - i,
		})
	}
	if err := history.AppendHistory(context.Background(), "p1", pts); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	if err := store.PutProduct(context.Background(), &models.Product{
		ID: "p1", BasePrice: 10, Stock: 40,
		ExpiryDate: now.AddDate(0, 0, 20), Location: "riga",
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	assembler := features.NewAssembler(history, staticWeather{}, staticHoliday{}, features.Config{})
	engine := forecast.NewEngine(forecast.NewSeasonalModel(), forecast.Config{})
	ranker := attribution.NewRanker(engine)
	return NewForecastService(store, store, assembler, engine, ranker, nil, nil), store
}

func TestRunPublishesBundleAndAttributions(t *testing.T) {
	s, store := newTestService(t)

	b, err := s.Run(context.Background(), "p1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(b.Points) != models.ForecastDays {
		t.Fatalf("got %d points", len(b.Points))
	}

	latest, err := store.LatestBundle(context.Background(), "p1")
	if err != nil {
		t.Fatalf("latest bundle: %v", err)
	}
	if !latest.GeneratedAt.Equal(b.GeneratedAt) {
		t.Fatalf("stored generation %v, returned %v", latest.GeneratedAt, b.GeneratedAt)
	}

	attrs, err := s.Attributions(context.Background(), "p1")
	if err != nil {
		t.Fatalf("attributions: %v", err)
	}
	if len(attrs) != models.ForecastDays {
		t.Fatalf("got %d attributions", len(attrs))
	}
}

func TestLatestGeneratesOnFirstRead(t *testing.T) {
	s, store := newTestService(t)

	if _, err := store.LatestBundle(context.Background(), "p1"); err == nil {
		t.Fatalf("bundle should not exist before first read")
	}

	b, err := s.Latest(context.Background(), "p1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}

	// second read serves the stored bundle, no regeneration
	again, err := s.Latest(context.Background(), "p1")
	if err != nil {
		t.Fatalf("second latest: %v", err)
	}
	if !again.GeneratedAt.Equal(b.GeneratedAt) {
		t.Fatalf("second read regenerated: %v vs %v", again.GeneratedAt, b.GeneratedAt)
	}
}

func TestRunUnknownProduct(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.Run(context.Background(), "ghost"); err == nil {
		t.Fatalf("want error for unknown product")
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	s, _ := newTestService(t)

	if _, err := s.Run(context.Background(), "p1"); err != nil {
		t.Fatalf("run 1: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := s.Run(context.Background(), "p1"); err != nil {
		t.Fatalf("run 2: %v", err)
	}

	hist, err := s.History(context.Background(), "p1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("got %d generations", len(hist))
	}
	if hist[0].GeneratedAt.Before(hist[1].GeneratedAt) {
		t.Fatalf("history not newest-first")
	}
}
