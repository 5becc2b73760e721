package intent

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires stale created intents. Reads expire lazily
// anyway; sweeping keeps listings and the expiry index small.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. A non-positive interval disables it.
func NewSweeper(svc *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.svc.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("expiry sweep failed", "error", err, "expired", n)
				continue
			}
			if n > 0 {
				s.logger.Info("expiry sweep", "expired", n)
			}
		}
	}
}
