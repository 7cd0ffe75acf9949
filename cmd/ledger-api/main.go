package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ledger-service/pkg/api"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/cache/memory"
	"ledger-service/pkg/cache/redis"
	"ledger-service/pkg/chain"
	"ledger-service/pkg/config"
	"ledger-service/pkg/ledger"
	ledgermem "ledger-service/pkg/ledger/memory"
	"ledger-service/pkg/ledger/postgres"
	"ledger-service/pkg/logging"
	promMetrics "ledger-service/pkg/metrics/prometheus"
	"ledger-service/pkg/query"
	"ledger-service/pkg/resilience"
	"ledger-service/pkg/seed"
	"ledger-service/pkg/writer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// backend is what the service needs from a ledger store.
type backend interface {
	ledger.Store
	ledger.AccountCreator
	query.Reader
}

func main() {
	logger, err := logging.NewLoggerFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	if err := run(logger); err != nil {
		logger.Fatal("ledger-api stopped", zap.Error(err))
	}
}

func run(logger *logging.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Amounts and balances are JSON numbers on the wire.
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := promMetrics.NewPrometheusCollector(cfg.MetricsNamespace)
	if err := metricsCollector.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	healthChecks := map[string]api.HealthCheck{}

	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		healthChecks["postgres"] = db.PingContext
	}

	seeded := false
	if cfg.Seed {
		if seeded, err = seed.Run(ctx, store, logger); err != nil {
			return err
		}
	}

	guard := resilience.NewGuard("posting",
		resilience.DefaultConfig().
			WithTimeout(cfg.PostingTimeout).
			WithSuccessClassifier(ledger.IsDomainOutcome),
		metricsCollector,
	)
	engine := ledger.NewEngine(store, ledger.EngineConfig{
		Guard:   guard,
		Metrics: metricsCollector,
		Logger:  logger,
	})

	queryConfig := query.Config{TTL: cfg.CacheTTL, Metrics: metricsCollector, Logger: logger}
	if cfg.CacheEnabled {
		layers := []cache.CacheLayer{memory.NewMemoryCache(memory.MemoryCacheConfig{
			Name:       "L1-memory",
			MaxSize:    cfg.CacheMaxEntries,
			DefaultTTL: cfg.CacheTTL,
		})}

		if cfg.RedisAddr != "" {
			redisConfig := redis.DefaultRedisCacheConfig()
			redisConfig.Name = "L2-redis"
			redisConfig.Addr = cfg.RedisAddr
			redisConfig.Password = cfg.RedisPassword
			redisConfig.DB = cfg.RedisDB
			redisConfig.DefaultTTL = cfg.CacheTTL
			redisCache, err := redis.NewRedisCache(redisConfig)
			if err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			// Entries left by a previous process describe a ledger that may
			// no longer exist.
			if seeded || cfg.Store == config.StoreMemory {
				if err := redisCache.FlushPrefix(ctx); err != nil {
					logger.Warn("failed to flush redis cache", zap.Error(err))
				}
			}
			healthChecks["redis"] = redisCache.Ping
			layers = append(layers, redisCache)
		}

		cacheChain, err := chain.New(chain.Config{WarmTTL: cfg.CacheTTL, Metrics: metricsCollector}, layers...)
		if err != nil {
			return fmt.Errorf("create cache chain: %w", err)
		}
		defer cacheChain.Close()
		logger.Info("read cache enabled", zap.Stringer("chain", cacheChain))
		queryConfig.Cache = cacheChain

		if len(layers) > 1 {
			filler := writer.NewAsyncWriter(cacheChain, writer.AsyncWriterConfig{
				Name:    "chain",
				Metrics: metricsCollector,
				Logger:  logger,
			})
			defer filler.Close()
			queryConfig.Filler = filler
		}
	}

	queries := query.NewService(store, queryConfig)
	engine.OnCommit(queries.Invalidate)

	serverConfig := api.DefaultServerConfig()
	serverConfig.Address = cfg.HTTPAddr
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout
	serverConfig.JWTSecret = cfg.JWTSecret
	serverConfig.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	serverConfig.HealthChecks = healthChecks
	serverConfig.Metrics = metricsCollector
	serverConfig.Logger = logger
	if !cfg.AuthEnabled() {
		logger.Warn("LEDGER_JWT_SECRET is empty, bearer tokens are not verified")
	}

	server := api.NewServer(engine, queries, serverConfig)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore returns the configured store and, for postgres, its handle.
func openStore(ctx context.Context, cfg config.Config, logger *logging.Logger) (backend, *sql.DB, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.PostgresDSN,
			MaxOpenConns:    cfg.PostgresMaxOpenConns,
			MaxIdleConns:    cfg.PostgresMaxOpenConns,
			ConnMaxLifetime: cfg.PostgresConnLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(db, logger); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("using postgres store")
		return postgres.NewStore(db), db, nil
	case config.StoreMemory:
		logger.Info("using in-memory store")
		return ledgermem.New(), nil, nil
	default:
		return nil, nil, errors.New("unknown store " + cfg.Store)
	}
}
