package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"Flowcast/internal/domain/repository"
	internalrepo "Flowcast/internal/repository"
	domsvc "Flowcast/internal/domain/service"
	icache "Flowcast/internal/service/cache"
	"Flowcast/internal/service/inventory"
	"Flowcast/internal/services/attribution"
	"Flowcast/internal/services/cart"
	"Flowcast/internal/services/environment"
	"Flowcast/internal/services/features"
	"Flowcast/internal/services/forecast"
	"Flowcast/internal/services/lock"
	"Flowcast/internal/usecase"
	pkgch "Flowcast/pkg/clickhouse"
	"Flowcast/pkg/config"
	pkgkafka "Flowcast/pkg/kafka"
	"Flowcast/pkg/metrics"
	"Flowcast/pkg/server"
)

// ProvideMemoryStore creates the in-process record store. Always built: it
// backs products and bundles, and locks/carts too when storage.type is
// "memory".
func ProvideMemoryStore() *internalrepo.MemoryStore {
	return internalrepo.NewMemoryStore()
}

// ProvideRedisClient creates a Redis client when enabled, nil otherwise.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// ProvideLockStore selects the lock record backend per storage.type.
func ProvideLockStore(cfg *config.Config, mem *internalrepo.MemoryStore, rc *redis.Client) repository.LockStore {
	if cfg.Storage.Type == "redis" {
		return internalrepo.NewRedisRecordStore(rc, "flowcast", cfg.Storage.RecordTTL)
	}
	return mem
}

// ProvideCartStore selects the cart record backend per storage.type.
func ProvideCartStore(cfg *config.Config, mem *internalrepo.MemoryStore, rc *redis.Client) repository.CartStore {
	if cfg.Storage.Type == "redis" {
		return internalrepo.NewRedisRecordStore(rc, "flowcast", cfg.Storage.RecordTTL)
	}
	return mem
}

// ProvideProductStore exposes the product catalog.
func ProvideProductStore(mem *internalrepo.MemoryStore) repository.ProductStore {
	return mem
}

// ProvideBundleStore exposes the forecast bundle store.
func ProvideBundleStore(mem *internalrepo.MemoryStore) repository.BundleStore {
	return mem
}

// ProvideClickHouseClient creates a ClickHouse client when enabled, nil
// otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	// Initialize schema
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := append([]string{"CREATE DATABASE IF NOT EXISTS flowcast"}, internalrepo.HistorySchema...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close() // cannot log here (DI layer no logger); propagate error
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideHistoryStore picks ClickHouse when configured, in-memory otherwise.
func ProvideHistoryStore(cfg *config.Config, ch *pkgch.Client) repository.HistoryStore {
	if cfg.ClickHouse.Enabled && ch != nil {
		return internalrepo.NewCHHistoryStore(ch)
	}
	return internalrepo.NewMemoryHistoryStore()
}

// ProvideKafkaProducer creates a Kafka producer, nil when no brokers are
// configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideAuditPublisher publishes the pricing audit trail to Kafka, or
// discards it when no broker is configured.
func ProvideAuditPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.AuditPublisher {
	if producer == nil {
		return internalrepo.NoopAuditPublisher{}
	}
	return internalrepo.NewKafkaAuditPublisher(producer, cfg.Kafka.Topic)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

func locations(cfg *config.Config) map[string]environment.Coordinates {
	out := make(map[string]environment.Coordinates, len(cfg.Locations))
	for name, loc := range cfg.Locations {
		out[name] = environment.Coordinates{Lat: loc.Lat, Lon: loc.Lon, Country: loc.Country}
	}
	return out
}

// ProvideWeatherSource creates the daily weather forecast client.
func ProvideWeatherSource(cfg *config.Config) domsvc.WeatherSource {
	return environment.NewWeatherClient(environment.WeatherConfig{
		BaseURL:   cfg.Weather.BaseURL,
		Timeout:   cfg.Weather.Timeout,
		CacheTTL:  cfg.Weather.CacheTTL,
		Locations: locations(cfg),
	})
}

// ProvideHolidaySource creates the holiday calendar client.
func ProvideHolidaySource(cfg *config.Config) domsvc.HolidaySource {
	return environment.NewHolidayClient(environment.HolidayConfig{
		BaseURL:   cfg.Holiday.BaseURL,
		APIKey:    cfg.Holiday.APIKey,
		Timeout:   cfg.Holiday.Timeout,
		CacheTTL:  cfg.Holiday.CacheTTL,
		Locations: locations(cfg),
	})
}

// ProvideAssembler creates the feature assembler.
func ProvideAssembler(history repository.HistoryStore, weather domsvc.WeatherSource, holiday domsvc.HolidaySource, cfg *config.Config) *features.Assembler {
	return features.NewAssembler(history, weather, holiday, features.Config{
		HistoryWindow: cfg.Forecast.HistoryWindow,
		RetryMax:      cfg.Forecast.RetryMax,
		RetryBackoff:  cfg.Forecast.RetryBackoff,
	})
}

// ProvidePriceModel selects the configured model, seasonal by default.
func ProvidePriceModel(cfg *config.Config) domsvc.PriceModel {
	if cfg.Forecast.Model == "linear" {
		version := cfg.Forecast.Linear.Version
		if version == "" {
			version = "linear-v1"
		}
		return forecast.NewLinearModel(version, cfg.Forecast.Linear.Intercept, cfg.Forecast.Linear.Coefficients)
	}
	return forecast.NewSeasonalModel()
}

// ProvideForecastEngine creates the forecast engine.
func ProvideForecastEngine(model domsvc.PriceModel, cfg *config.Config) *forecast.Engine {
	return forecast.NewEngine(model, forecast.Config{
		MinMultiplier:    cfg.Forecast.MinMultiplier,
		Z:                cfg.Forecast.Z,
		HorizonGrowth:    cfg.Forecast.HorizonGrowth,
		VolatilityWindow: cfg.Forecast.VolatilityWindow,
		VolatilityFloor:  cfg.Forecast.VolatilityFloor,
		MinHistory:       cfg.Forecast.MinHistory,
	})
}

// ProvideRanker creates the attribution ranker.
func ProvideRanker(engine *forecast.Engine) *attribution.Ranker {
	return attribution.NewRanker(engine)
}

// ProvideLockManager creates the price lock manager.
func ProvideLockManager(locks repository.LockStore, bundles repository.BundleStore, audit repository.AuditPublisher, m repository.Metrics, cfg *config.Config) *lock.Manager {
	return lock.NewManager(locks, bundles, audit, m, lock.Config{TTL: cfg.Lock.TTL})
}

// ProvideCartLedger creates the cart ledger.
func ProvideCartLedger(carts repository.CartStore, bundles repository.BundleStore, locks *lock.Manager) *cart.Ledger {
	return cart.NewLedger(carts, bundles, locks)
}

// ProvideForecastService creates the forecast orchestrator.
func ProvideForecastService(
	products repository.ProductStore,
	bundles repository.BundleStore,
	assembler *features.Assembler,
	engine *forecast.Engine,
	ranker *attribution.Ranker,
	audit repository.AuditPublisher,
	m repository.Metrics,
) *usecase.ForecastService {
	return usecase.NewForecastService(products, bundles, assembler, engine, ranker, audit, m)
}

// ProvideInventoryStream creates the warehouse WebSocket stream, nil when not
// configured.
func ProvideInventoryStream(cfg *config.Config) repository.InventoryStream {
	if cfg.Inventory.WebSocketURL == "" {
		return nil
	}
	return inventory.New(
		cfg.Inventory.APIKey,
		cfg.Inventory.WebSocketURL,
		cfg.Inventory.Products,
		cfg.Inventory.ReconnectDelay,
		cfg.Inventory.PingInterval,
	)
}

// ProvideInventoryCollector creates the inventory collector use case.
func ProvideInventoryCollector(
	stream repository.InventoryStream,
	products repository.ProductStore,
	history repository.HistoryStore,
	m repository.Metrics,
) *usecase.InventoryCollector {
	if stream == nil {
		return nil
	}
	return usecase.NewInventoryCollector(stream, products, history, m)
}

// ProvideBytesCache creates the response cache: Redis-backed when Redis is
// enabled, in-process TTL cache otherwise.
func ProvideBytesCache(cfg *config.Config, rc *redis.Client) icache.BytesCache {
	if rc == nil {
		return icache.NewTTLCache()
	}
	return icache.NewRedisCache(icache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	forecasts *usecase.ForecastService,
	locks *lock.Manager,
	carts *cart.Ledger,
	collector *usecase.InventoryCollector,
	history repository.HistoryStore,
	audit repository.AuditPublisher,
	chClient *pkgch.Client,
	respCache icache.BytesCache,
) *server.App {
	return server.New(cfg, forecasts, locks, carts, collector, history, audit, chClient, respCache)
}
