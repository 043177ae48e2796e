package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"

	"github.com/prospectdb/prospect-stats/internal/config"
	"github.com/prospectdb/prospect-stats/internal/domain/identity"
	"github.com/prospectdb/prospect-stats/internal/domain/source"
	"github.com/prospectdb/prospect-stats/internal/infrastructure/repository/memory"
	"github.com/prospectdb/prospect-stats/internal/infrastructure/repository/postgres"
	"github.com/prospectdb/prospect-stats/internal/infrastructure/source/httpjson"
	"github.com/prospectdb/prospect-stats/internal/interfaces/httpapi"
	"github.com/prospectdb/prospect-stats/internal/platform/cache"
	"github.com/prospectdb/prospect-stats/internal/platform/logging"
	"github.com/prospectdb/prospect-stats/internal/platform/ratelimit"
	"github.com/prospectdb/prospect-stats/internal/platform/resilience"
	"github.com/prospectdb/prospect-stats/internal/usecase"
)

// NewHTTPServer wires the full service and returns the server plus a
// cleanup to run after shutdown.
func NewHTTPServer(cfg config.Config, logger *logging.Logger) (*http.Server, func(context.Context) error, error) {
	if logger == nil {
		logger = logging.Default()
	}

	breakerCfg := resilience.CircuitBreakerConfig{
		Enabled:          cfg.CircuitEnabled,
		FailureThreshold: cfg.CircuitFailureCount,
		OpenTimeout:      cfg.CircuitOpenTimeout,
		HalfOpenMaxReq:   cfg.CircuitHalfOpenMaxReq,
	}

	limiter := ratelimit.NewLimiter()
	if err := limiter.Configure(ratelimit.DefaultSourceKey, cfg.DefaultRatePerSec, cfg.DefaultBurstCapacity); err != nil {
		return nil, nil, fmt.Errorf("configure default rate bucket: %w", err)
	}

	registry := source.NewRegistry()
	for _, spec := range cfg.Sources {
		if err := registerSource(registry, limiter, spec, breakerCfg, logger); err != nil {
			return nil, nil, err
		}
	}

	store := cache.NewStore()
	store.StartSweep(cfg.CacheSweepInterval)

	index := memory.NewEntityIndex()
	resolver := identity.NewResolver(identity.MatcherConfig{
		StrongMaxDistance: cfg.MatchStrongMaxDistance,
		WeakMinSimilarity: cfg.MatchWeakMinSimilarity,
	}, index, logger)

	aggregator := usecase.NewAggregatorService(usecase.AggregatorConfig{
		QueryDeadline: cfg.QueryDeadline,
		DefaultTTL: source.CacheTTL{
			Search:      cfg.CacheTTLSearch,
			EntityStats: cfg.CacheTTLEntityStats,
			Leaderboard: cfg.CacheTTLLeaderboard,
		},
		Breaker: breakerCfg,
	}, registry, limiter, store, resolver, logger)

	refresh := usecase.NewRefreshService(aggregator, store, registry, logger)

	var db *sqlx.DB
	if cfg.DBEnabled {
		var err error
		db, err = openDB(cfg)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		refresh = refresh.WithSnapshotRepository(postgres.NewSnapshotRepository(db), cfg.SnapshotKeepPerQuery)
		logger.Info("snapshot export enabled", "db", dbNameFromURL(cfg.DBURL), "keep_per_query", cfg.SnapshotKeepPerQuery)
	}

	status := usecase.NewSourceStatusService(registry, limiter, aggregator, logger)

	handler := httpapi.NewHandler(aggregator, refresh, status, logger)
	router := httpapi.NewRouter(handler, logger, cfg.CORSAllowedOrigins, cfg.InternalJobToken)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if server.Addr == "" {
		store.Close()
		if db != nil {
			_ = db.Close()
		}
		return nil, nil, fmt.Errorf("http server addr cannot be empty")
	}

	cleanup := func(context.Context) error {
		store.Close()
		if db != nil {
			return db.Close()
		}
		return nil
	}

	return server, cleanup, nil
}

func registerSource(
	registry *source.Registry,
	limiter *ratelimit.Limiter,
	spec config.SourceSpec,
	breakerCfg resilience.CircuitBreakerConfig,
	logger *logging.Logger,
) error {
	desc := source.Descriptor{
		Key:         spec.Key,
		DisplayName: spec.DisplayName,
		DefaultTTL: source.CacheTTL{
			Search:      spec.TTLSearch,
			EntityStats: spec.TTLEntityStats,
			Leaderboard: spec.TTLLeaderboard,
		},
	}
	if spec.RatePerSec > 0 {
		desc.RateLimit = &source.RateLimitSpec{
			RatePerSec:    spec.RatePerSec,
			BurstCapacity: spec.BurstCapacity,
		}
		if err := limiter.Configure(spec.Key, spec.RatePerSec, spec.BurstCapacity); err != nil {
			return fmt.Errorf("configure rate bucket for %q: %w", spec.Key, err)
		}
	}

	err := registry.Register(desc, func(d source.Descriptor) (source.Source, error) {
		return httpjson.NewClient(d, httpjson.ClientConfig{
			BaseURL:        spec.BaseURL,
			APIKey:         spec.APIKey,
			Timeout:        spec.Timeout,
			Logger:         logger,
			CircuitBreaker: breakerCfg,
		})
	})
	if err != nil {
		return err
	}

	logger.Info("source registered",
		"source_key", spec.Key,
		"shared_bucket", spec.RatePerSec <= 0,
	)

	return nil
}

func openDB(cfg config.Config) (*sqlx.DB, error) {
	db, err := otelsqlx.Connect("postgres", normalizeDBURL(cfg.DBURL, cfg.DBDisablePreparedBinary),
		otelsql.WithDBSystem("postgresql"),
		otelsql.WithDBName(dbNameFromURL(cfg.DBURL)),
		otelsql.WithQueryFormatter(formatDBQueryForTrace),
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}
