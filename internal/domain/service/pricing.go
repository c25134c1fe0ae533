package service

import (
	"context"
	"time"

	"Flowcast/internal/domain/models"
)

// PriceModel is the swappable pre-trained model capability. It maps one
// feature vector to a price multiplier applied to the product base price.
// Implementations must be deterministic for a given Version.
type PriceModel interface {
	Predict(v models.FeatureVector) (float64, error)
	Version() string
}

// WeatherSource provides a forward-looking daily weather score for a
// location. Fails with models.ErrDataUnavailable on timeout or provider
// error.
type WeatherSource interface {
	DailyScore(ctx context.Context, location string, dayOffset int) (float64, error)
}

// HolidaySource reports whether a date is a holiday at a location.
type HolidaySource interface {
	IsHoliday(ctx context.Context, location string, date time.Time) (bool, error)
}
