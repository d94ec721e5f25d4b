package emission

import (
	"context"
	"time"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/domain/fiscal"
)

// WorkerConfig tunes the background loop.
type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Worker drains pending entries in bounded batches. Failed entries are not
// retried automatically.
type Worker struct {
	svc  *Service
	cfg  WorkerConfig
	wake chan struct{}
}

// NewWorker creates a worker over svc.
func NewWorker(svc *Service, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Worker{svc: svc, cfg: cfg, wake: make(chan struct{}, 1)}
}

// Wake schedules a cycle without waiting for the next tick. Never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log := w.svc.log.WithContext(ctx)
	log.Infow("emission worker started", "interval", w.cfg.Interval, "batch_size", w.cfg.BatchSize)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Errorw("emission cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			log.Infow("emission worker stopped")
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// CycleStats counts what one cycle did.
type CycleStats struct {
	Processed int
	Emitted   int
	Failed    int
	Skipped   int
}

// RunOnce emits up to BatchSize pending entries, oldest first. Replicas
// received from a peer are left to the peer.
func (w *Worker) RunOnce(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	pending, err := w.svc.repo.Query(ctx, fiscal.Filter{
		Statuses:  []fiscal.Status{fiscal.StatusPending},
		LocalOnly: true,
		Limit:     w.cfg.BatchSize,
	})
	if err != nil {
		return stats, err
	}

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		out, err := w.svc.Emit(ctx, e.ID)
		switch {
		case apperror.HasCode(err, apperror.CodeConflict):
			stats.Skipped++
			continue
		case err != nil:
			w.svc.log.WithContext(ctx).Errorw("emission aborted", "id", e.ID, "error", err)
			stats.Failed++
			continue
		}

		stats.Processed++
		switch {
		case out.Skipped:
			stats.Skipped++
		case out.Status == fiscal.StatusEmitted:
			stats.Emitted++
		default:
			stats.Failed++
		}
	}
	return stats, nil
}
