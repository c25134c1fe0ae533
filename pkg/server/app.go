package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"

	"Flowcast/internal/domain/repository"
	"Flowcast/internal/handler/api"
	icache "Flowcast/internal/service/cache"
	"Flowcast/internal/services/cart"
	"Flowcast/internal/services/lock"
	"Flowcast/internal/usecase"
	pkgch "Flowcast/pkg/clickhouse"
	"Flowcast/pkg/config"
	xhttp "Flowcast/pkg/http"
	applogger "Flowcast/pkg/logger"
)

const defaultSweepSchedule = "@every 1m"

// App encapsulates the entire application lifecycle.
type App struct {
	cfg       *config.Config
	forecasts *usecase.ForecastService
	locks     *lock.Manager
	carts     *cart.Ledger
	collector *usecase.InventoryCollector
	history   repository.HistoryStore
	audit     repository.AuditPublisher
	chClient  *pkgch.Client
	respCache icache.BytesCache

	httpServer *xhttp.Server
	sweeper    *cron.Cron
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	forecasts *usecase.ForecastService,
	locks *lock.Manager,
	carts *cart.Ledger,
	collector *usecase.InventoryCollector,
	history repository.HistoryStore,
	audit repository.AuditPublisher,
	chClient *pkgch.Client,
	respCache icache.BytesCache,
) *App {
	return &App{
		cfg:       cfg,
		forecasts: forecasts,
		locks:     locks,
		carts:     carts,
		collector: collector,
		history:   history,
		audit:     audit,
		chClient:  chClient,
		respCache: respCache,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// init app logger (console info by default)
	l, _ := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})

	a.forecasts.SetLogger(l)
	a.locks.SetLogger(l)
	a.carts.SetLogger(l)
	if a.collector != nil {
		a.collector.SetLogger(l)
	}

	handler := api.NewPricingHandler(l, a.forecasts, a.locks, a.carts)
	if a.respCache != nil {
		handler.SetCache(a.respCache)
	}

	a.httpServer = xhttp.NewServer(handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	a.httpServer.Echo().GET("/healthz", a.healthHandler)

	// Periodic expiry sweep. Lazy expiry on reads already keeps answers
	// correct; the sweep bounds how long a dead lock can linger unseen.
	schedule := a.cfg.Lock.SweepSchedule
	if schedule == "" {
		schedule = defaultSweepSchedule
	}
	a.sweeper = cron.New()
	if _, err := a.sweeper.AddFunc(schedule, func() {
		if _, err := a.locks.Sweep(ctx); err != nil {
			l.Error("lock sweep error", applogger.Error(err))
		}
	}); err != nil {
		l.Error("sweep schedule invalid", applogger.String("schedule", schedule), applogger.Error(err))
		return err
	}
	a.sweeper.Start()
	l.Info("lock sweeper started", applogger.String("schedule", schedule))

	// Start inventory collector when a stream is configured
	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				l.Error("inventory collector error", applogger.Error(err))
			}
		}()
		l.Info("inventory collector started", applogger.Strings("products", a.cfg.Inventory.Products))
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	l, err := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})
	if err != nil {
		log.Printf("failed to create logger: %v", err)
		return err
	}
	l.Info("shutting down...")

	// Stop the sweeper first so no transition races shutdown
	if a.sweeper != nil {
		<-a.sweeper.Stop().Done()
	}

	// Stop inventory collector
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			l.Warn("inventory collector stop error", applogger.Error(err))
		}
	}

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	// Close infrastructure clients
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			l.Warn("audit publisher close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}

// healthHandler checks infrastructure dependencies.
func (a *App) healthHandler(c echo.Context) error {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if a.history != nil {
		if err := a.history.Health(c.Request().Context()); err != nil {
			status["status"] = "degraded"
			status["history"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if a.collector != nil && !a.collector.IsConnected() {
		status["inventory"] = "disconnected"
	}
	return c.JSON(code, status)
}
