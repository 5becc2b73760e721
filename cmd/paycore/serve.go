package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"paycore/internal/common/events"
	"paycore/internal/common/middleware"
	"paycore/internal/common/nats"
	grantapi "paycore/internal/grant/api"
	"paycore/internal/intent"
	intentapi "paycore/internal/intent/api"
	"paycore/internal/risk"
	routingapi "paycore/internal/routing/api"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, expiry sweeper and route catalog refresher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, prometheus.DefaultRegisterer, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	limiter := middleware.NewKeyedLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Port),
		Handler:      a.router(limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: a.cfg.Intents.ExecutorTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting paycore",
			"port", a.cfg.Port,
			"environment", a.cfg.Environment,
			"store", a.cfg.StoreBackend,
			"executor", a.cfg.ExecutorMode,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return intent.NewSweeper(a.intents, a.cfg.SweepInterval, a.logger).Run(ctx)
	})

	g.Go(func() error {
		return a.refresher.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	})

	if a.nats != nil {
		feed, err := a.catalogFeed(ctx)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := nats.Consume(ctx, feed, a.refresher.HandleEvent, a.logger); err != nil {
				return fmt.Errorf("route catalog feed: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("server stopped")
	return err
}

// catalogFeed subscribes this replica to pushed catalog snapshots. Each
// replica gets its own durable consumer so every one sees every snapshot.
func (a *app) catalogFeed(ctx context.Context) (jetstream.Consumer, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	return a.nats.SnapshotConsumer(ctx, a.cfg.NATS.Name+"-routes-"+host, events.EventRouteCatalogUpdated)
}

func (a *app) router(limiter middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(a.logger))
	r.Use(middleware.Logger(a.logger))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.CORS(a.cfg.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := a.healthCheck(r.Context()); err != nil {
			a.logger.Warn("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OwnerExtractor)
		r.Use(middleware.RequireOwner)
		r.Use(middleware.RateLimit(limiter, middleware.OwnerOrIPKey))
		if a.redis != nil {
			r.Use(middleware.Idempotency(middleware.NewRedisIdempotencyStore(a.redis, "paycore:idem:"), a.cfg.IdempotencyTTL, a.logger))
		}

		r.Mount("/intents", intentapi.NewHandler(a.intents).Routes())
		r.Mount("/grants", grantapi.NewHandler(a.grants, a.clock).Routes())
		r.Mount("/routes", routingapi.NewHandler(a.selector, risk.NeutralProfiles{}).Routes())
	})

	return r
}

func (a *app) healthCheck(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.HealthCheck(ctx); err != nil {
			return err
		}
	}
	if a.nats != nil {
		if err := a.nats.HealthCheck(); err != nil {
			return err
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("pinging redis: %w", err)
		}
	}
	return nil
}
