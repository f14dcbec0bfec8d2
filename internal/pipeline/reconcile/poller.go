package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

const (
	defaultGraceWindow = 5 * time.Second
	defaultInterval    = 5 * time.Second
	defaultMaxPolls    = 120
)

// Config holds reconciliation parameters
type Config struct {
	// GraceWindow is how long to wait after submission before the first
	// poll, giving the webhook a chance to arrive.
	GraceWindow time.Duration
	// Interval between polls
	Interval time.Duration
	// MaxPolls bounds the wall-clock polling budget
	MaxPolls int
}

// Poller reconciles provider state for jobs whose webhook never arrived or
// is delayed. It is the fallback observation path; the webhook is the
// primary one. Both converge through the lifecycle funnel.
type Poller struct {
	store    domain.JobStore
	provider domain.ProviderClient
	cfg      Config
	logger   *slog.Logger
}

// NewPoller creates a reconciliation poller
func NewPoller(store domain.JobStore, provider domain.ProviderClient, cfg Config, logger *slog.Logger) *Poller {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = defaultGraceWindow
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = defaultMaxPolls
	}
	return &Poller{store: store, provider: provider, cfg: cfg, logger: logger}
}

// Await polls the provider until it reports a terminal state for the job.
//
// Returns the provider result on success, a *domain.ProviderFailure when
// the provider reports failure, domain.ErrAlreadyTerminal when another
// observer (webhook) finished the job first, and domain.ErrPollingTimeout
// once the poll budget is exhausted. The context is checked every
// iteration so cancellation aborts promptly.
func (p *Poller) Await(ctx context.Context, jobID, providerJobID string) (*domain.ProviderResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.cfg.GraceWindow):
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for polls := 1; polls <= p.cfg.MaxPolls; polls++ {
		job, err := p.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			p.logger.Debug("Job reached terminal state while polling",
				slog.String("job_id", jobID),
				slog.String("status", string(job.Status)),
			)
			return nil, domain.ErrAlreadyTerminal
		}

		res, err := p.provider.PollStatus(ctx, providerJobID)
		if err != nil {
			// A failed poll consumes budget but is not itself terminal;
			// the next tick retries.
			p.logger.Warn("Provider poll failed",
				slog.String("job_id", jobID),
				slog.String("provider_job_id", providerJobID),
				slog.Int("poll", polls),
				slog.Any("error", err),
			)
		} else {
			p.recordPoll(ctx, jobID, polls, res)

			switch res.Status {
			case domain.ProviderStatusCompleted:
				return res, nil
			case domain.ProviderStatusFailed:
				return nil, &domain.ProviderFailure{
					Code:    "PROVIDER_FAILED",
					Message: res.ErrorMessage,
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return nil, fmt.Errorf("%w: provider job %s after %d polls",
		domain.ErrPollingTimeout, providerJobID, p.cfg.MaxPolls)
}

// recordPoll appends the POLLING audit entry and advances the synthetic
// progress estimate. The provider reports no fine-grained progress, so the
// estimate grows with the poll count, capped below completion.
func (p *Poller) recordPoll(ctx context.Context, jobID string, polls int, res *domain.ProviderResult) {
	metadata, _ := json.Marshal(map[string]any{
		"provider_status": string(res.Status),
		"poll":            polls,
	})
	if err := p.store.AppendEvent(ctx, &domain.JobEvent{
		JobID:     jobID,
		EventType: domain.EventPolling,
		Message:   "provider status " + string(res.Status),
		Metadata:  metadata,
	}); err != nil {
		p.logger.Error("Failed to append polling event",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}

	progress := polls * 2
	if progress > 95 {
		progress = 95
	}
	if err := p.store.SetProgress(ctx, jobID, progress); err != nil {
		p.logger.Warn("Failed to update progress",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}
