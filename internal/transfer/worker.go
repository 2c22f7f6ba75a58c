package transfer

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"carpeta/internal/transfer/metrics"
)

const sweepBatchSize = 50

// Worker periodically advances transfers waiting on the unregister
// step: confirmed records enter it, pending_unregister records retry
// it. Each record is advanced under its own transfer lock, and the
// Run loop stops cleanly when ctx is cancelled.
type Worker struct {
	service  *Service
	interval time.Duration
	parallel int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerParallelism bounds concurrent advances per sweep.
func WithWorkerParallelism(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.parallel = n
		}
	}
}

// WithWorkerMetrics wires prometheus instrumentation.
func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func NewWorker(service *Service, interval time.Duration, logger *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		service:  service,
		interval: interval,
		parallel: 4,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	if w.metrics != nil {
		w.metrics.IncrementSweeps()
	}

	// Incoming records rest at confirmed and never unregister, so
	// only outgoing records are due. The store applies the direction
	// filter before the batch limit.
	var due []*Record
	for _, status := range []Status{StatusConfirmed, StatusPendingUnregister} {
		records, err := w.service.store.ListByStatus(ctx, status, DirectionOutgoing, sweepBatchSize)
		if err != nil {
			w.logger.Error("worker list failed", "status", status, "error", err)
			continue
		}
		if w.metrics != nil {
			w.metrics.SetActive(string(status), len(records))
		}
		due = append(due, records...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.parallel)
	for _, record := range due {
		g.Go(func() error {
			if _, err := w.service.AdvanceUnregister(gctx, record.ID); err != nil {
				// Lock contention with an inbound handler is expected;
				// the next sweep picks the record up again.
				w.logger.Warn("worker advance failed",
					"transfer_id", record.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
