// Package overdue periodically flags running loans whose end date passed.
package overdue

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/storage"
)

type Sweeper interface {
	SweepOverdue(ctx context.Context, limit int) (int, error)
}

type Worker struct {
	sweeper   Sweeper
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

func NewWorker(sweeper Sweeper, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	// The sweeper clamps its limit the same way; a full batch is compared
	// against the clamped value.
	cfg.BatchSize = storage.NormalizeLimit(cfg.BatchSize)
	return &Worker{
		sweeper:   sweeper,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

// Run sweeps once at start and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("overdue sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce sweeps batches until one comes back short and returns the total.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := w.sweeper.SweepOverdue(ctx, w.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batchSize || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		w.logger.Info("overdue loans flagged", "count", total)
	}
	return total, nil
}
