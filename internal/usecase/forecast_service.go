package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"Flowcast/internal/domain/models"
	drepo "Flowcast/internal/domain/repository"
	"Flowcast/internal/services/attribution"
	"Flowcast/internal/services/features"
	"Flowcast/internal/services/forecast"
	applogger "Flowcast/pkg/logger"
)

// ForecastService orchestrates one forecast generation: assemble features,
// predict the ten-day curve, rank attributions, publish the bundle
// atomically. Concurrent runs for the same product collapse into one via
// singleflight, so a burst of reads cannot stampede the model.
type ForecastService struct {
	products  drepo.ProductStore
	bundles   drepo.BundleStore
	assembler *features.Assembler
	engine    *forecast.Engine
	ranker    *attribution.Ranker
	audit     drepo.AuditPublisher
	metrics   drepo.Metrics
	group     singleflight.Group
	l         *applogger.Logger
}

func NewForecastService(
	products drepo.ProductStore,
	bundles drepo.BundleStore,
	assembler *features.Assembler,
	engine *forecast.Engine,
	ranker *attribution.Ranker,
	audit drepo.AuditPublisher,
	metrics drepo.Metrics,
) *ForecastService {
	return &ForecastService{
		products:  products,
		bundles:   bundles,
		assembler: assembler,
		engine:    engine,
		ranker:    ranker,
		audit:     audit,
		metrics:   metrics,
	}
}

// SetLogger injects a structured logger.
func (s *ForecastService) SetLogger(l *applogger.Logger) { s.l = l }

// Run generates a fresh bundle for the product and makes it the latest
// generation. Duplicate concurrent runs share one execution and one result.
func (s *ForecastService) Run(ctx context.Context, productID string) (*models.ForecastBundle, error) {
	v, err, _ := s.group.Do(productID, func() (interface{}, error) {
		return s.run(ctx, productID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ForecastBundle), nil
}

func (s *ForecastService) run(ctx context.Context, productID string) (*models.ForecastBundle, error) {
	start := time.Now()

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}

	asOf := time.Now().UTC()
	vectors, history, err := s.assembler.Assemble(ctx, product, asOf)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordError("assemble")
		}
		return nil, fmt.Errorf("assemble features: %w", err)
	}

	bundle, err := s.engine.Predict(ctx, product, vectors, history, asOf)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordError("predict")
		}
		return nil, fmt.Errorf("predict: %w", err)
	}

	attrs, err := s.ranker.Explain(ctx, product, vectors, history)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordError("attribution")
		}
		return nil, fmt.Errorf("explain: %w", err)
	}

	if err := s.bundles.PutBundle(ctx, bundle); err != nil {
		return nil, fmt.Errorf("store bundle: %w", err)
	}
	if err := s.bundles.PutAttributions(ctx, productID, bundle.GeneratedAt, attrs); err != nil {
		return nil, fmt.Errorf("store attributions: %w", err)
	}

	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordForecastRun(productID, elapsed.Seconds())
	}
	if s.audit != nil {
		err := s.audit.Publish(ctx, &models.AuditEvent{
			Kind:      "forecast_run",
			ProductID: productID,
			Timestamp: bundle.GeneratedAt,
		})
		if err != nil && s.l != nil {
			s.l.Warn("audit publish error", applogger.String("product", productID), applogger.Error(err))
		}
	}
	if s.l != nil {
		s.l.Info("forecast run",
			applogger.String("product", productID),
			applogger.String("model", bundle.ModelVersion),
			applogger.Bool("low_confidence", bundle.LowConfidence),
			applogger.Duration("duration_ms", elapsed),
		)
	}
	return bundle, nil
}

// Latest returns the current bundle for the product, generating one on first
// read.
func (s *ForecastService) Latest(ctx context.Context, productID string) (*models.ForecastBundle, error) {
	b, err := s.bundles.LatestBundle(ctx, productID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("latest bundle: %w", err)
	}
	return s.Run(ctx, productID)
}

// History returns past generations, newest first.
func (s *ForecastService) History(ctx context.Context, productID string, limit int) ([]*models.ForecastBundle, error) {
	bs, err := s.bundles.BundleHistory(ctx, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("bundle history: %w", err)
	}
	return bs, nil
}

// Attributions returns the ranked feature weights of the latest generation,
// generating a bundle on first read.
func (s *ForecastService) Attributions(ctx context.Context, productID string) ([]models.Attribution, error) {
	as, err := s.bundles.LatestAttributions(ctx, productID)
	if err == nil {
		return as, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("latest attributions: %w", err)
	}
	if _, err := s.Run(ctx, productID); err != nil {
		return nil, err
	}
	return s.bundles.LatestAttributions(ctx, productID)
}
