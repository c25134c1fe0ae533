package environment

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"Flowcast/internal/domain/models"
	domsvc "Flowcast/internal/domain/service"
	xhttp "Flowcast/pkg/http"
	applogger "Flowcast/pkg/logger"
)

// Coordinates locates a configured city.
type Coordinates struct {
	Lat float64
	Lon float64
	// Country is the holiday calendar code for the location.
	Country string
}

// WeatherConfig configures the daily forecast provider (Open-Meteo style
// API).
type WeatherConfig struct {
	BaseURL   string
	Timeout   time.Duration
	CacheTTL  time.Duration
	Locations map[string]Coordinates
}

// WeatherClient fetches the daily forward weather forecast and folds it into
// a single weather score per day. A fetched forecast is cached per location
// so the ten per-day lookups of one assembly hit the provider once.
type WeatherClient struct {
	cfg    WeatherConfig
	client *xhttp.Client
	l      *applogger.Logger

	mu    sync.Mutex
	cache map[string]weatherEntry
}

type weatherEntry struct {
	scores    []float64
	fetchedAt time.Time
}

func NewWeatherClient(cfg WeatherConfig) *WeatherClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &WeatherClient{
		cfg:    cfg,
		client: xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		cache:  make(map[string]weatherEntry),
	}
}

// SetLogger injects a structured logger.
func (c *WeatherClient) SetLogger(l *applogger.Logger) { c.l = l }

type weatherResponse struct {
	Daily struct {
		Time             []string  `json:"time"`
		TemperatureMax   []float64 `json:"temperature_2m_max"`
		PrecipitationSum []float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// DailyScore returns the weather score for location at dayOffset. Provider
// failures and unknown locations surface as ErrDataUnavailable.
func (c *WeatherClient) DailyScore(ctx context.Context, location string, dayOffset int) (float64, error) {
	if dayOffset < 0 || dayOffset >= models.ForecastDays {
		return 0, fmt.Errorf("day offset %d out of range", dayOffset)
	}

	c.mu.Lock()
	entry, ok := c.cache[location]
	c.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < c.cfg.CacheTTL {
		return entry.scores[dayOffset], nil
	}

	coords, ok := c.cfg.Locations[location]
	if !ok {
		return 0, fmt.Errorf("location %q not configured: %w", location, models.ErrDataUnavailable)
	}

	var resp weatherResponse
	err := c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.cfg.BaseURL,
		QueryParams: map[string][]string{
			"latitude":      {strconv.FormatFloat(coords.Lat, 'f', 4, 64)},
			"longitude":     {strconv.FormatFloat(coords.Lon, 'f', 4, 64)},
			"daily":         {"temperature_2m_max,precipitation_sum"},
			"timezone":      {"auto"},
			"forecast_days": {strconv.Itoa(models.ForecastDays)},
		},
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("weather fetch %s: %w: %v", location, models.ErrDataUnavailable, err)
	}
	if len(resp.Daily.TemperatureMax) < models.ForecastDays || len(resp.Daily.PrecipitationSum) < models.ForecastDays {
		return 0, fmt.Errorf("weather fetch %s: short forecast: %w", location, models.ErrDataUnavailable)
	}

	scores := make([]float64, models.ForecastDays)
	for i := range scores {
		scores[i] = weatherScore(resp.Daily.TemperatureMax[i], resp.Daily.PrecipitationSum[i])
	}

	c.mu.Lock()
	c.cache[location] = weatherEntry{scores: scores, fetchedAt: time.Now()}
	c.mu.Unlock()

	if c.l != nil {
		c.l.Debug("weather forecast fetched", applogger.String("location", location))
	}
	return scores[dayOffset], nil
}

// weatherScore folds temperature and rain into one demand-dampening index:
// heavy rain and temperatures far from a comfortable 22C both raise it.
func weatherScore(tempMax, precipitation float64) float64 {
	return precipitation + math.Abs(tempMax-22)/10
}

var _ domsvc.WeatherSource = (*WeatherClient)(nil)
