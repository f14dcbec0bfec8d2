package worker

import (
	"context"
	"log/slog"
	"time"
)

// runScheduler periodically scans for due queue entries and publishes
// wake-ups for them. This is what turns backoff schedules and expired
// leases back into deliveries; publishing the same job id more than once
// is harmless because leasing decides ownership.
func (w *Worker) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(w.scheduleInterval)
	defer ticker.Stop()

	w.logger.Info("Retry scheduler started",
		slog.Duration("interval", w.scheduleInterval),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Retry scheduler stopping - stopChan closed")
			return

		case <-ctx.Done():
			w.logger.Info("Retry scheduler stopping - context canceled")
			return

		case <-ticker.C:
			ids, err := w.queue.DueJobIDs(ctx, defaultScheduleBatch)
			if err != nil {
				w.logger.Error("Failed to scan due queue entries",
					slog.Any("error", err),
				)
				continue
			}

			for _, id := range ids {
				if err := w.notifier.NotifyReady(ctx, id); err != nil {
					w.logger.Error("Failed to publish wake-up",
						slog.String("job_id", id),
						slog.Any("error", err),
					)
					break
				}
			}

			if len(ids) > 0 {
				w.logger.Debug("Published wake-ups for due entries",
					slog.Int("count", len(ids)),
				)
			}
		}
	}
}
