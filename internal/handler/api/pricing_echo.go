package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	models "Flowcast/internal/domain/models"
	icache "Flowcast/internal/service/cache"
	"Flowcast/internal/service/metrics"
	"Flowcast/internal/service/ratelimit"
	"Flowcast/internal/services/cart"
	"Flowcast/internal/services/lock"
	"Flowcast/internal/usecase"
	xhttp "Flowcast/pkg/http"
	xlogger "Flowcast/pkg/logger"
)

const forecastCacheTTL = 30 * time.Second

// PricingHandler implements the Echo-based pricing API: forecasts,
// attribution, price locks and the cart ledger.
type PricingHandler struct {
	logger    *xlogger.Logger
	forecasts *usecase.ForecastService
	locks     *lock.Manager
	carts     *cart.Ledger
	cache     icache.BytesCache
	rl        *ratelimit.Limiter
}

func NewPricingHandler(logger *xlogger.Logger, forecasts *usecase.ForecastService, locks *lock.Manager, carts *cart.Ledger) *PricingHandler {
	metrics.Register()
	return &PricingHandler{
		logger:    logger,
		forecasts: forecasts,
		locks:     locks,
		carts:     carts,
		rl:        ratelimit.New(),
	}
}

// SetCache enables response caching for forecast reads.
func (h *PricingHandler) SetCache(c icache.BytesCache) { h.cache = c }

func (h *PricingHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/forecast", h.Forecast)
	g.GET("/forecast/history", h.ForecastHistory)
	g.POST("/forecast/run", h.ForecastRun)
	g.GET("/attribution", h.Attribution)
	g.POST("/lock", h.LockCreate)
	g.GET("/lock/validate", h.LockValidate)
	g.POST("/lock/release", h.LockRelease)
	g.POST("/lock/consume", h.LockConsume)
	g.POST("/cart/add", h.CartAdd)
	g.POST("/cart/remove", h.CartRemove)
	g.GET("/cart", h.CartList)
}

// appError maps domain sentinels onto HTTP statuses. Anything unmapped is a
// 500.
func appError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError(err.Error())
	case errors.Is(err, models.ErrConflictingLock):
		return xhttp.ConflictError(err.Error())
	case errors.Is(err, models.ErrStaleForecast):
		return xhttp.ConflictError(err.Error())
	case errors.Is(err, models.ErrInvalidState):
		return xhttp.ConflictError(err.Error())
	case errors.Is(err, models.ErrNotOwner):
		return xhttp.ForbiddenError(err.Error())
	case errors.Is(err, models.ErrDataUnavailable):
		return xhttp.NewAppError("ERR_DATA_UNAVAILABLE", "", err.Error(), 503)
	default:
		return xhttp.InternalError(err.Error())
	}
}

func (h *PricingHandler) Forecast(c echo.Context) error {
	start := time.Now()
	endpoint := "forecast"
	defer func() { metrics.PricingLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	cacheKey := "forecast:" + req.ProductID
	if b, ok := h.cacheGet(cacheKey); ok {
		var bundle models.ForecastBundle
		if err := json.Unmarshal(b, &bundle); err == nil {
			return xhttp.SuccessResponse(c, &bundle)
		}
	}

	bundle, err := h.forecasts.Latest(c.Request().Context(), req.ProductID)
	if err != nil {
		metrics.PricingErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("forecast usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	h.cacheSet(cacheKey, bundle, forecastCacheTTL)
	return xhttp.SuccessResponse(c, bundle)
}

func (h *PricingHandler) ForecastHistory(c echo.Context) error {
	start := time.Now()
	endpoint := "forecast_history"
	defer func() { metrics.PricingLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.ForecastHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	bundles, err := h.forecasts.History(c.Request().Context(), req.ProductID, req.Limit)
	if err != nil {
		metrics.PricingErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("forecast history usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.ListResponse(c, bundles, int64(len(bundles)))
}

func (h *PricingHandler) ForecastRun(c echo.Context) error {
	start := time.Now()
	endpoint := "forecast_run"
	defer func() { metrics.PricingLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.ForecastRunRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":run", 3, 1) {
		h.logger.Warn("forecast run rate_limited", xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many forecast runs", 429))
	}

	bundle, err := h.forecasts.Run(c.Request().Context(), req.ProductID)
	if err != nil {
		metrics.PricingErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("forecast run usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	h.cacheSet("forecast:"+req.ProductID, bundle, forecastCacheTTL)
	return xhttp.CreatedResponse(c, bundle)
}

func (h *PricingHandler) Attribution(c echo.Context) error {
	start := time.Now()
	endpoint := "attribution"
	defer func() { metrics.PricingLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.AttributionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	attrs, err := h.forecasts.Attributions(c.Request().Context(), req.ProductID)
	if err != nil {
		metrics.PricingErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("attribution usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, attrs)
}

func (h *PricingHandler) LockCreate(c echo.Context) error {
	start := time.Now()
	endpoint := "lock_create"
	defer func() { metrics.PricingLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.LockCreateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	// Lock against the latest generation; stale snapshots are rejected by
	// the manager.
	bundle, err := h.forecasts.Latest(c.Request().Context(), req.ProductID)
	if err != nil {
		metrics.PricingErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("lock create forecast error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	l, err := h.locks.Create(c.Request().Context(), req.UserID, req.ProductID, req.DayIndex, bundle)
	if err != nil {
		metrics.PricingErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("lock create error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.CreatedResponse(c, l)
}

func (h *PricingHandler) LockValidate(c echo.Context) error {
	start := time.Now()
	endpoint := "lock_validate"
	defer func() { metrics.PricingLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.LockValidateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	l, err := h.locks.Get(c.Request().Context(), req.LockID)
	if err != nil {
		metrics.PricingErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("lock validate error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, l)
}

func (h *PricingHandler) LockRelease(c echo.Context) error {
	return h.lockAction(c, "lock_release", h.locks.Release)
}

func (h *PricingHandler) LockConsume(c echo.Context) error {
	return h.lockAction(c, "lock_consume", h.locks.Consume)
}

func (h *PricingHandler) lockAction(c echo.Context, endpoint string, action func(ctx context.Context, lockID, userID string) (models.LockStatus, error)) error {
	start := time.Now()
	defer func() { metrics.PricingLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.LockActionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	status, err := action(c.Request().Context(), req.LockID, req.UserID)
	if err != nil {
		metrics.PricingErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error(endpoint+" error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"lock_id": req.LockID, "status": string(status)})
}

func (h *PricingHandler) CartAdd(c echo.Context) error {
	start := time.Now()
	endpoint := "cart_add"
	defer func() { metrics.PricingLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.CartAddRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	e, err := h.carts.Add(c.Request().Context(), req.UserID, req.ProductID, req.Quantity, req.LockID)
	if err != nil {
		metrics.PricingErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("cart add error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.CreatedResponse(c, e)
}

func (h *PricingHandler) CartRemove(c echo.Context) error {
	start := time.Now()
	endpoint := "cart_remove"
	defer func() { metrics.PricingLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.CartRemoveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.carts.Remove(c.Request().Context(), req.UserID, req.ProductID); err != nil {
		metrics.PricingErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("cart remove error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.NoContentResponse(c)
}

func (h *PricingHandler) CartList(c echo.Context) error {
	start := time.Now()
	endpoint := "cart_list"
	defer func() { metrics.PricingLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	req := &models.CartListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	view, err := h.carts.List(c.Request().Context(), req.UserID)
	if err != nil {
		metrics.PricingErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("cart list error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, view)
}

func (h *PricingHandler) cacheGet(key string) ([]byte, bool) {
	if h.cache == nil {
		return nil, false
	}
	b, ok, err := h.cache.GetBytes(key)
	if err != nil {
		h.logger.Warn("cache get error", xlogger.String("key", key), xlogger.Error(err))
		return nil, false
	}
	return b, ok
}

func (h *PricingHandler) cacheSet(key string, v interface{}, ttl time.Duration) {
	if h.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := h.cache.SetBytes(key, b, ttl); err != nil {
		h.logger.Warn("cache set error", xlogger.String("key", key), xlogger.Error(err))
	}
}
