//go:build wireinject
// +build wireinject

package di

import (
	"Flowcast/pkg/config"
	"Flowcast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics
		ProvideMetrics,

		// Infrastructure clients
		ProvideMemoryStore,
		ProvideRedisClient,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideLockStore,
		ProvideCartStore,
		ProvideProductStore,
		ProvideBundleStore,
		ProvideHistoryStore,
		ProvideAuditPublisher,
		ProvideInventoryStream,

		// Domain services
		ProvideWeatherSource,
		ProvideHolidaySource,
		ProvideAssembler,
		ProvidePriceModel,
		ProvideForecastEngine,
		ProvideRanker,
		ProvideLockManager,
		ProvideCartLedger,

		// Use cases
		ProvideForecastService,
		ProvideInventoryCollector,

		// HTTP response cache
		ProvideBytesCache,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
