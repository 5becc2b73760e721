package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"paycore/internal/common/clock"
	"paycore/internal/common/database"
	"paycore/internal/common/events"
	"paycore/internal/common/lock"
	"paycore/internal/common/nats"
	"paycore/internal/common/telemetry"
	"paycore/internal/executor"
	"paycore/internal/fees"
	"paycore/internal/grant"
	"paycore/internal/intent"
	"paycore/internal/risk"
	"paycore/internal/routing"
	"paycore/internal/routing/selector"
)

// app is the wired object graph shared by the subcommands.
type app struct {
	cfg    Config
	logger *slog.Logger

	db    *database.DB
	nats  *nats.Client
	redis *redis.Client

	clock     clock.Clock
	metrics   *telemetry.Metrics
	publisher events.Publisher
	locker    lock.Locker

	catalog   *routing.MemoryCatalog
	refresher *routing.Refresher
	selector  *selector.Selector
	grants    *grant.Service
	intents   *intent.Service
}

// buildApp connects to whatever backing services cfg enables and wires
// the domain services on top. reg may be nil.
func buildApp(ctx context.Context, cfg Config, reg prometheus.Registerer, logger *slog.Logger) (_ *app, err error) {
	if err := checkLocking(cfg); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: telemetry.NewMetrics(reg)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	switch cfg.StoreBackend {
	case "memory":
	case "postgres":
		if !cfg.Database.Enabled() {
			return nil, fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
		if a.db, err = database.New(ctx, cfg.Database, logger); err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	a.publisher = events.NopPublisher{}
	if cfg.NATS.Enabled() {
		if a.nats, err = nats.Connect(ctx, cfg.NATS, logger); err != nil {
			return nil, err
		}
		if err = a.nats.EnsureStream(ctx); err != nil {
			return nil, err
		}
		a.publisher = nats.NewPublisher(a.nats, logger)
	}

	if cfg.Redis.Addr != "" {
		if a.redis, err = lock.NewRedisClient(ctx, cfg.Redis); err != nil {
			return nil, err
		}
		a.locker = lock.NewRedis(a.redis, cfg.Redis, logger)
		logger.Info("using redis locks", "addr", cfg.Redis.Addr)
	} else {
		a.locker = lock.NewKeyed()
	}

	if err = a.buildRouting(ctx); err != nil {
		return nil, err
	}

	var (
		grantStore  grant.Store
		intentStore intent.Store
	)
	if a.db != nil {
		grantStore = grant.NewPostgresStore(a.db)
		intentStore = intent.NewPostgresStore(a.db)
	} else {
		grantStore = grant.NewMemoryStore()
		intentStore = intent.NewMemoryStore()
	}

	exec, err := a.buildExecutor()
	if err != nil {
		return nil, err
	}

	a.clock = clock.System{}
	a.grants = grant.NewService(grantStore, a.locker, a.clock, a.publisher, a.metrics, logger)
	a.intents = intent.NewService(cfg.Intents, intent.Deps{
		Store:     intentStore,
		Grants:    a.grants,
		Selector:  a.selector,
		Profiles:  risk.NeutralProfiles{},
		Executor:  exec,
		Locker:    a.locker,
		Clock:     a.clock,
		Publisher: a.publisher,
		Metrics:   a.metrics,
		Logger:    logger,
	})

	return a, nil
}

// lockHeadroom is the time a grant lock must survive past the executor
// timeout so the outcome and usage can be persisted under it.
const lockHeadroom = 15 * time.Second

// checkLocking rejects deployments whose locks cannot hold the grant
// critical section. Postgres implies more than one replica may share the
// grants, and the in-process lock serializes only within one process.
func checkLocking(cfg Config) error {
	if cfg.StoreBackend == "postgres" && cfg.Redis.Addr == "" {
		return errors.New("STORE_BACKEND=postgres requires REDIS_ADDR so grant checks are serialized across replicas")
	}
	if cfg.Redis.Addr == "" {
		return nil
	}
	ttl := cfg.Redis.TTL
	if ttl <= 0 {
		ttl = lock.DefaultTTL
	}
	if need := cfg.Intents.ExecutorTimeout + lockHeadroom; ttl < need {
		return fmt.Errorf("REDIS_LOCK_TTL %s must be at least EXECUTOR_TIMEOUT plus %s (%s)", ttl, lockHeadroom, need)
	}
	return nil
}

// buildRouting seeds the catalog from the configured source. The database
// table wins over the file when both are available.
func (a *app) buildRouting(ctx context.Context) error {
	var source routing.Source
	switch {
	case a.db != nil:
		source = routing.NewPostgresSource(a.db)
	case a.cfg.RoutesFile != "":
		source = routing.FileSource{Path: a.cfg.RoutesFile}
	}

	catalog, err := routing.NewMemoryCatalog(nil)
	if err != nil {
		return err
	}
	a.catalog = catalog
	a.refresher = routing.NewRefresher(catalog, source, a.cfg.RoutesRefreshInterval, a.metrics, a.logger)
	if source != nil {
		if err := a.refresher.Refresh(ctx); err != nil {
			return fmt.Errorf("seeding route catalog: %w", err)
		}
	} else {
		a.logger.Warn("no route source configured; every quote uses the fallback route")
	}

	a.selector = selector.New(catalog, fees.NewEstimator(a.cfg.Fees), risk.NewScorer(a.cfg.Risk), a.cfg.Scoring, a.metrics)
	return nil
}

func (a *app) buildExecutor() (intent.Executor, error) {
	switch a.cfg.ExecutorMode {
	case "sandbox":
		return executor.NewSandbox(a.cfg.Sandbox, onChainChains(a.cfg.Fees), a.logger), nil
	case "http":
		if a.cfg.HTTP.BaseURL == "" {
			return nil, fmt.Errorf("EXECUTOR_MODE=http requires EXECUTOR_URL")
		}
		return executor.NewHTTP(a.cfg.HTTP, &http.Client{}, a.logger), nil
	case "nats":
		if a.nats == nil {
			return nil, fmt.Errorf("EXECUTOR_MODE=nats requires NATS_URL")
		}
		return executor.NewNATS(a.nats.Conn(), executor.SubjectExecute, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown executor mode %q", a.cfg.ExecutorMode)
	}
}

// onChainChains lists the chains that carry gas, which are the ones a
// settled payment gets a transaction hash on.
func onChainChains(cfg fees.Config) []string {
	chains := make([]string, 0, len(cfg.GasFees))
	for chain := range cfg.GasFees {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	return chains
}

// Close releases connections in reverse dependency order.
func (a *app) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
