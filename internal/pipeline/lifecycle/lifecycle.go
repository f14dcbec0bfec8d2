package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

// Manager owns the terminal transitions of the job state machine. Both
// observation paths (reconciliation poller and provider webhook) and the
// worker's own failure handling funnel through it, so every transition is
// guarded by the same conditional update and duplicates converge to no-ops.
type Manager struct {
	store     domain.JobStore
	queue     domain.Queue
	publisher domain.ArtifactPublisher
	logger    *slog.Logger
}

// NewManager wires the transition funnel
func NewManager(store domain.JobStore, queue domain.Queue, publisher domain.ArtifactPublisher, logger *slog.Logger) *Manager {
	return &Manager{store: store, queue: queue, publisher: publisher, logger: logger}
}

// CompleteFromProvider finalizes a job whose generation the provider
// reported as successful. Whichever observer calls first wins the
// PUBLISHING claim; later callers get ErrAlreadyTerminal and no-op.
//
// Publication failure is non-fatal: the job completes with the provider's
// original URL as a degraded fallback.
func (m *Manager) CompleteFromProvider(ctx context.Context, jobID string, res domain.ProviderResult) error {
	claimed, err := m.store.TransitionJob(ctx, jobID,
		[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing},
		domain.JobStatusPublishing,
		domain.JobMutation{},
	)
	if err != nil {
		return err
	}
	if !claimed {
		return domain.ErrAlreadyTerminal
	}

	resultURL := res.ResultURL
	thumbnailURL := res.ThumbnailURL

	artifact, pubErr := m.publisher.Publish(ctx, res.ResultURL)
	if pubErr != nil {
		m.logger.Warn("Artifact publish failed, completing with provider URL",
			slog.String("job_id", jobID),
			slog.Any("error", pubErr),
		)
		m.appendEvent(ctx, jobID, domain.EventPublishError, pubErr.Error(), map[string]any{
			"source_url": res.ResultURL,
		})
	} else {
		resultURL = artifact.PermanentURL
		if artifact.ThumbnailURL != "" {
			thumbnailURL = artifact.ThumbnailURL
		}
	}

	progress := 100
	ok, err := m.store.TransitionJob(ctx, jobID,
		[]domain.JobStatus{domain.JobStatusPublishing},
		domain.JobStatusCompleted,
		domain.JobMutation{
			Progress:        &progress,
			ResultURL:       &resultURL,
			ThumbnailURL:    &thumbnailURL,
			DurationSeconds: &res.DurationSeconds,
			SetCompletedAt:  true,
		},
	)
	if err != nil {
		return err
	}
	if !ok {
		// Cancel can race the publish window; the entry cleanup below
		// still applies.
		m.logger.Warn("Completion lost the publishing claim",
			slog.String("job_id", jobID),
		)
	} else {
		m.appendEvent(ctx, jobID, domain.EventCompleted, "generation completed", map[string]any{
			"result_url": resultURL,
		})
	}

	if err := m.queue.Ack(ctx, jobID); err != nil {
		m.logger.Error("Failed to ack completed job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
	return nil
}

// FailOrRetry routes a job-lifecycle error through the retry policy. The
// failure is claimed with the same conditional update that guards
// completion: only the observer whose PROCESSING→PENDING transition wins
// gets to nack, so a webhook and a poller reporting the same failure burn
// a single attempt. The winner then either leaves the job PENDING for the
// next lease or, once the attempt budget is exhausted, moves it to
// terminal FAILED.
func (m *Manager) FailOrRetry(ctx context.Context, jobID string, cause error) error {
	claimed, err := m.store.TransitionJob(ctx, jobID,
		[]domain.JobStatus{domain.JobStatusProcessing, domain.JobStatusPublishing},
		domain.JobStatusPending,
		domain.JobMutation{},
	)
	if err != nil {
		return err
	}
	if !claimed {
		return domain.ErrAlreadyTerminal
	}

	nres, err := m.queue.Nack(ctx, jobID, cause.Error())
	if err != nil {
		if errors.Is(err, domain.ErrEntryNotFound) {
			// Cancel removed the entry between the claim and the nack.
			return domain.ErrAlreadyTerminal
		}
		return fmt.Errorf("failed to nack job %s: %w", jobID, err)
	}

	msg := cause.Error()
	code := domain.ErrorCode(cause)
	mut := domain.JobMutation{
		ErrorMessage: &msg,
		ErrorCode:    &code,
		RetryCount:   &nres.Attempts,
	}

	if nres.DeadLettered {
		mut.SetCompletedAt = true
		ok, err := m.store.TransitionJob(ctx, jobID,
			[]domain.JobStatus{domain.JobStatusPending},
			domain.JobStatusFailed, mut)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAlreadyTerminal
		}
		m.appendEvent(ctx, jobID, domain.EventFailed, msg, map[string]any{
			"error_code": code,
			"attempts":   nres.Attempts,
		})
		m.logger.Error("Job failed permanently",
			slog.String("job_id", jobID),
			slog.String("error_code", code),
			slog.Int("attempts", nres.Attempts),
		)
		return nil
	}

	ok, err := m.store.TransitionJob(ctx, jobID,
		[]domain.JobStatus{domain.JobStatusPending},
		domain.JobStatusPending, mut)
	if err != nil {
		return err
	}
	if ok {
		m.appendEvent(ctx, jobID, domain.EventQueued, "retry scheduled", map[string]any{
			"error_code":  code,
			"attempts":    nres.Attempts,
			"next_run_at": nres.NextRunAt,
		})
	}

	m.logger.Warn("Job scheduled for retry",
		slog.String("job_id", jobID),
		slog.String("error_code", code),
		slog.Int("attempts", nres.Attempts),
		slog.Time("next_run_at", nres.NextRunAt),
	)
	return nil
}

// Cancel moves a non-terminal job to CANCELLED and removes its queue
// entry. ErrAlreadyTerminal when the job already finished.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	ok, err := m.store.TransitionJob(ctx, jobID, domain.NonTerminalStatuses(), domain.JobStatusCancelled,
		domain.JobMutation{SetCompletedAt: true})
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAlreadyTerminal
	}

	m.appendEvent(ctx, jobID, domain.EventCancelled, "cancelled by request", nil)

	if err := m.queue.Ack(ctx, jobID); err != nil {
		m.logger.Error("Failed to remove queue entry for cancelled job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}

	m.logger.Info("Job cancelled", slog.String("job_id", jobID))
	return nil
}

func (m *Manager) appendEvent(ctx context.Context, jobID string, eventType domain.EventType, message string, metadata map[string]any) {
	var raw []byte
	if metadata != nil {
		raw, _ = json.Marshal(metadata)
	}
	if err := m.store.AppendEvent(ctx, &domain.JobEvent{
		JobID:     jobID,
		EventType: eventType,
		Message:   message,
		Metadata:  raw,
	}); err != nil {
		m.logger.Error("Failed to append job event",
			slog.String("job_id", jobID),
			slog.String("event_type", string(eventType)),
			slog.Any("error", err),
		)
	}
}
