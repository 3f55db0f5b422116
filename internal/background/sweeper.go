package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridianbank/authrisk/internal/services"
)

// Sweeper periodically runs the maintenance work the request path defers:
// expiring alerts, delivering pending ones, and pruning stale rate limit
// entries and retained attempts.
type Sweeper struct {
	rateLimits *services.RateLimitService
	ledger     *services.AttemptLedger
	alerts     *services.AlertService
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	stopCh     chan struct{}
}

// NewSweeper creates a new sweeper
func NewSweeper(
	rateLimits *services.RateLimitService,
	ledger *services.AttemptLedger,
	alerts *services.AlertService,
	logger *slog.Logger,
	interval time.Duration,
) *Sweeper {
	return &Sweeper{
		rateLimits: rateLimits,
		ledger:     ledger,
		alerts:     alerts,
		logger:     logger,
		interval:   interval,
		batchSize:  100,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the periodic sweep loop
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on startup
	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopCh:
			s.logger.Info("sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("sweeper context cancelled")
			return
		}
	}
}

func (s *Sweeper) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if expired, err := s.alerts.SweepExpired(sweepCtx); err != nil {
		s.logger.Error("failed to sweep expired alerts", slog.Any("error", err))
	} else if expired > 0 {
		s.logger.Info("expired alerts swept", slog.Int64("count", expired))
	}

	if delivered, err := s.alerts.DeliverPending(sweepCtx, s.batchSize); err != nil {
		s.logger.Error("failed to deliver pending alerts", slog.Any("error", err))
	} else if delivered > 0 {
		s.logger.Info("pending alerts delivered", slog.Int("count", delivered))
	}

	if removed, err := s.rateLimits.CleanupStale(sweepCtx); err != nil {
		s.logger.Error("failed to cleanup stale rate limit entries", slog.Any("error", err))
	} else if removed > 0 {
		s.logger.Info("stale rate limit entries removed", slog.Int64("count", removed))
	}

	if removed, err := s.ledger.CleanupExpired(sweepCtx); err != nil {
		s.logger.Error("failed to cleanup expired attempts", slog.Any("error", err))
	} else if removed > 0 {
		s.logger.Info("expired attempts removed", slog.Int64("count", removed))
	}
}

// Stop signals the sweeper to stop
func (s *Sweeper) Stop() {
	close(s.stopCh)
}
