package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

// processJob executes the per-job state machine for one wake-up:
//
//	PENDING --lease--> PROCESSING --submit--> PROCESSING (awaiting provider)
//	PROCESSING --provider success--> PUBLISHING --> COMPLETED
//	PROCESSING --provider failure--> PENDING (retry) | FAILED (budget spent)
//
// Consumption is idempotent under at-least-once delivery: ownership comes
// from the queue lease, and a job found terminal after re-read is acked
// without side effects.
func (w *Worker) processJob(ctx context.Context, workerName string, msg *jobMessage) error {
	entry, err := w.queue.LeaseJob(ctx, msg.JobID, workerName, w.visibility)
	if err != nil {
		if errors.Is(err, domain.ErrNoEntryReady) {
			// Not due, owned by another worker, or already finished.
			w.logger.Debug("No lease acquired",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
			)
			return nil
		}
		return err
	}

	job, err := w.store.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			w.logger.Warn("Queue entry references missing job, removing",
				slog.String("job_id", msg.JobID),
			)
			return w.queue.Ack(ctx, msg.JobID)
		}
		return err
	}

	if job.Status.Terminal() {
		return w.queue.Ack(ctx, job.JobID)
	}

	w.logger.Info("Worker picked job",
		slog.String("worker_name", workerName),
		slog.String("job_id", job.JobID),
		slog.Int("attempts", entry.Attempts),
	)

	if job.Status == domain.JobStatusPending {
		ok, err := w.store.TransitionJob(ctx, job.JobID,
			[]domain.JobStatus{domain.JobStatusPending},
			domain.JobStatusProcessing,
			domain.JobMutation{SetStartedAt: true},
		)
		if err != nil {
			return err
		}
		if !ok {
			// Another path (webhook, cancel) moved the job first.
			job, err = w.store.GetJob(ctx, job.JobID)
			if err != nil {
				return err
			}
			if job.Status.Terminal() {
				return w.queue.Ack(ctx, job.JobID)
			}
		} else {
			w.appendEvent(ctx, job.JobID, domain.EventProcessing, "worker started processing", map[string]any{
				"worker": workerName,
			})
		}
	}

	providerJobID := job.ProviderJobID
	if providerJobID == "" {
		providerJobID, err = w.submitToProvider(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return w.handleFailure(ctx, job.JobID, err)
		}
	}

	res, err := w.poller.Await(ctx, job.JobID, providerJobID)
	switch {
	case err == nil:
		if cerr := w.lifecycle.CompleteFromProvider(ctx, job.JobID, *res); cerr != nil {
			if errors.Is(cerr, domain.ErrAlreadyTerminal) {
				return w.queue.Ack(ctx, job.JobID)
			}
			return cerr
		}
		return nil

	case errors.Is(err, domain.ErrAlreadyTerminal):
		// The webhook observed the terminal state first.
		return w.queue.Ack(ctx, job.JobID)

	case ctx.Err() != nil:
		// Shutdown mid-flight: keep the lease, the entry is redelivered
		// once it expires.
		return ctx.Err()

	default:
		return w.handleFailure(ctx, job.JobID, err)
	}
}

// submitToProvider rate-limits and submits the generation, then records the
// provider id. The id is set at most once; losing a set-once race means
// another worker already submitted, so its value is reused.
func (w *Worker) submitToProvider(ctx context.Context, job *domain.Job) (string, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return "", err
	}

	params, err := job.Params()
	if err != nil {
		return "", err
	}

	providerJobID, err := w.provider.Submit(ctx, domain.SubmitParams{
		JobID:  job.JobID,
		Params: params,
	})
	if err != nil {
		return "", err
	}

	if err := w.store.SetProviderJobID(ctx, job.JobID, providerJobID); err != nil {
		if errors.Is(err, domain.ErrProviderIDConflict) {
			existing, gerr := w.store.GetJob(ctx, job.JobID)
			if gerr != nil {
				return "", gerr
			}
			w.logger.Warn("Provider id already recorded, using existing",
				slog.String("job_id", job.JobID),
				slog.String("provider_job_id", existing.ProviderJobID),
			)
			return existing.ProviderJobID, nil
		}
		return "", err
	}

	w.appendEvent(ctx, job.JobID, domain.EventProcessing, "provider accepted generation", map[string]any{
		"provider_job_id": providerJobID,
	})
	return providerJobID, nil
}

func (w *Worker) handleFailure(ctx context.Context, jobID string, cause error) error {
	err := w.lifecycle.FailOrRetry(ctx, jobID, cause)
	if errors.Is(err, domain.ErrAlreadyTerminal) {
		return nil
	}
	return err
}

func (w *Worker) appendEvent(ctx context.Context, jobID string, eventType domain.EventType, message string, metadata map[string]any) {
	var raw []byte
	if metadata != nil {
		raw, _ = json.Marshal(metadata)
	}
	if err := w.store.AppendEvent(ctx, &domain.JobEvent{
		JobID:     jobID,
		EventType: eventType,
		Message:   message,
		Metadata:  raw,
	}); err != nil {
		w.logger.Error("Failed to append job event",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}
