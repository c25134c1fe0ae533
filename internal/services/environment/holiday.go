package environment

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"Flowcast/internal/domain/models"
	domsvc "Flowcast/internal/domain/service"
	xhttp "Flowcast/pkg/http"
	applogger "Flowcast/pkg/logger"
)

// HolidayConfig configures the national holiday calendar provider.
type HolidayConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	CacheTTL  time.Duration
	Locations map[string]Coordinates
}

// HolidayClient answers whether a date is a holiday at a location. Weekends
// always count as holidays for pricing purposes; national holidays come from
// the calendar API, cached per (country, year).
type HolidayClient struct {
	cfg    HolidayConfig
	client *xhttp.Client
	l      *applogger.Logger

	mu    sync.Mutex
	cache map[string]holidayEntry
}

type holidayEntry struct {
	dates     map[string]struct{} // "2006-01-02"
	fetchedAt time.Time
}

func NewHolidayClient(cfg HolidayConfig) *HolidayClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 12 * time.Hour
	}
	return &HolidayClient{
		cfg:    cfg,
		client: xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		cache:  make(map[string]holidayEntry),
	}
}

// SetLogger injects a structured logger.
func (c *HolidayClient) SetLogger(l *applogger.Logger) { c.l = l }

type holidayResponse struct {
	Response struct {
		Holidays []struct {
			Date struct {
				ISO string `json:"iso"`
			} `json:"date"`
		} `json:"holidays"`
	} `json:"response"`
}

// IsHoliday reports whether date is a weekend or national holiday for the
// location's country. Provider failures surface as ErrDataUnavailable.
func (c *HolidayClient) IsHoliday(ctx context.Context, location string, date time.Time) (bool, error) {
	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return true, nil
	}

	coords, ok := c.cfg.Locations[location]
	if !ok {
		return false, fmt.Errorf("location %q not configured: %w", location, models.ErrDataUnavailable)
	}

	dates, err := c.holidayDates(ctx, coords.Country, date.Year())
	if err != nil {
		return false, err
	}
	_, isHoliday := dates[date.Format("2006-01-02")]
	return isHoliday, nil
}

func (c *HolidayClient) holidayDates(ctx context.Context, country string, year int) (map[string]struct{}, error) {
	key := country + ":" + strconv.Itoa(year)

	c.mu.Lock()
	entry, ok := c.cache[key]
	c.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < c.cfg.CacheTTL {
		return entry.dates, nil
	}

	var resp holidayResponse
	err := c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.cfg.BaseURL,
		QueryParams: map[string][]string{
			"api_key": {c.cfg.APIKey},
			"country": {country},
			"year":    {strconv.Itoa(year)},
			"type":    {"national"},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("holiday fetch %s/%d: %w: %v", country, year, models.ErrDataUnavailable, err)
	}

	dates := make(map[string]struct{}, len(resp.Response.Holidays))
	for _, h := range resp.Response.Holidays {
		// provider sends full ISO timestamps for some calendars; keep the
		// date part only
		iso := h.Date.ISO
		if len(iso) > 10 {
			iso = iso[:10]
		}
		dates[iso] = struct{}{}
	}

	c.mu.Lock()
	c.cache[key] = holidayEntry{dates: dates, fetchedAt: time.Now()}
	c.mu.Unlock()

	if c.l != nil {
		c.l.Debug("holiday calendar fetched",
			applogger.String("country", country),
			applogger.Int("year", year),
			applogger.Int("holidays", len(dates)),
		)
	}
	return dates, nil
}

var _ domsvc.HolidaySource = (*HolidayClient)(nil)
