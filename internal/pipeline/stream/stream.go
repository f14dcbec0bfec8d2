package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

const (
	defaultPollInterval  = 2 * time.Second
	defaultTerminalGrace = time.Second
)

// Config holds status stream parameters
type Config struct {
	// PollInterval bounds staleness: the stream re-reads the store at this
	// cadence and emits on change.
	PollInterval time.Duration
	// TerminalGrace is the delay between emitting a terminal status and
	// closing the stream, giving the transport time to deliver.
	TerminalGrace time.Duration
}

// Watcher provides per-job status subscriptions without a pub/sub bus: the
// store is the source of truth and the watcher polls it on behalf of the
// subscriber. Semantics are at-most-last-known-value; missed intermediate
// updates are not buffered.
type Watcher struct {
	store  domain.JobStore
	cfg    Config
	logger *slog.Logger
}

// NewWatcher creates a status watcher
func NewWatcher(store domain.JobStore, cfg Config, logger *slog.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.TerminalGrace <= 0 {
		cfg.TerminalGrace = defaultTerminalGrace
	}
	return &Watcher{store: store, cfg: cfg, logger: logger}
}

// Watch opens a status stream for the job. The channel immediately carries
// the current persisted status, then an update for each observed change.
// After a terminal status is emitted the channel closes within
// TerminalGrace; it also closes promptly when ctx is canceled, releasing
// the polling goroutine.
func (w *Watcher) Watch(ctx context.Context, jobID string) (<-chan domain.StatusSnapshot, error) {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan domain.StatusSnapshot, 1)
	ch <- job.Snapshot()

	go w.run(ctx, jobID, job, ch)
	return ch, nil
}

func (w *Watcher) run(ctx context.Context, jobID string, last *domain.Job, ch chan<- domain.StatusSnapshot) {
	defer close(ch)

	if last.Status.Terminal() {
		w.graceWait(ctx)
		return
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err := w.store.GetJob(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("Status stream read failed",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
			continue
		}

		if !changed(last, job) {
			continue
		}
		last = job

		select {
		case ch <- job.Snapshot():
		case <-ctx.Done():
			return
		}

		if job.Status.Terminal() {
			w.graceWait(ctx)
			return
		}
	}
}

func (w *Watcher) graceWait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.TerminalGrace):
	}
}

func changed(a, b *domain.Job) bool {
	return a.Status != b.Status ||
		a.Progress != b.Progress ||
		a.RetryCount != b.RetryCount ||
		a.ResultURL != b.ResultURL ||
		a.ErrorMessage != b.ErrorMessage ||
		!a.UpdatedAt.Equal(b.UpdatedAt)
}
