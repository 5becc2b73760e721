package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"paycore/internal/common/events"
	"paycore/internal/common/telemetry"
)

// Refresher keeps a MemoryCatalog in sync with its durable source and with
// pushed catalog snapshots.
type Refresher struct {
	catalog  *MemoryCatalog
	source   Source
	interval time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewRefresher creates a refresher. A zero interval disables polling.
func NewRefresher(catalog *MemoryCatalog, source Source, interval time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) *Refresher {
	return &Refresher{
		catalog:  catalog,
		source:   source,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

// Refresh loads once from the source and swaps the snapshot.
func (r *Refresher) Refresh(ctx context.Context) error {
	routes, err := r.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading routes: %w", err)
	}
	return r.install(routes, "poll")
}

func (r *Refresher) install(routes []CandidateRoute, origin string) error {
	if err := r.catalog.Replace(routes); err != nil {
		return err
	}
	r.metrics.CatalogRoutes.Set(float64(r.catalog.Len()))
	r.logger.Info("route catalog refreshed",
		"routes", r.catalog.Len(),
		"origin", origin,
	)
	return nil
}

// Run polls until ctx is done. Failed refreshes keep the previous snapshot.
func (r *Refresher) Run(ctx context.Context) error {
	if r.interval <= 0 || r.source == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("route catalog refresh failed", "error", err)
			}
		}
	}
}

// CatalogUpdate is the payload of a routes.catalog.updated event.
type CatalogUpdate struct {
	Routes []CandidateRoute `json:"routes"`
}

// HandleEvent applies a pushed catalog snapshot. It matches the
// nats.Handler signature.
func (r *Refresher) HandleEvent(_ context.Context, event *events.Event) error {
	if event.Type != events.EventRouteCatalogUpdated {
		return nil
	}
	var update CatalogUpdate
	if err := event.DecodeData(&update); err != nil {
		return fmt.Errorf("decoding catalog update: %w", err)
	}
	return r.install(update.Routes, "feed")
}
