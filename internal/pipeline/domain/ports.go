package domain

import (
	"context"
	"time"
)

// JobFilter narrows job listings
type JobFilter struct {
	OwnerRef string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is a keyset pagination position over (created_at, job_id)
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// JobStore is the single source of truth for jobs and their audit trail.
// Status transitions go through TransitionJob, a compare-and-swap guarded
// by the expected source states, so racing owners converge instead of
// clobbering each other.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetJobByProviderID(ctx context.Context, providerJobID string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)

	// TransitionJob atomically moves the job from any of the given source
	// states to the target state, applying the mutation in the same write.
	// Returns false without error when the job was not in a source state.
	TransitionJob(ctx context.Context, jobID string, from []JobStatus, to JobStatus, mut JobMutation) (bool, error)

	// SetProviderJobID records the provider id at most once. Re-setting
	// the same value is a no-op; a different value is ErrProviderIDConflict.
	SetProviderJobID(ctx context.Context, jobID, providerJobID string) error

	// SetProgress advances progress monotonically while the job is PROCESSING
	SetProgress(ctx context.Context, jobID string, progress int) error

	AppendEvent(ctx context.Context, event *JobEvent) error
	ListEvents(ctx context.Context, jobID string) ([]JobEvent, error)
}

// EnqueueOptions parameterize queue admission
type EnqueueOptions struct {
	JobID          string
	IdempotencyKey string
	MaxAttempts    int
}

// Queue is the durable at-least-once work queue. Delivery may repeat after
// a lease expires; consumption must stay idempotent by re-checking job
// state before side effects.
type Queue interface {
	// Enqueue admits a job with next_run_at = now. ErrDuplicateJob when the
	// idempotency key already has a live entry.
	Enqueue(ctx context.Context, opts EnqueueOptions) error

	// Lease atomically acquires one ready entry (due, unlocked or lock
	// expired) for the worker, ErrNoEntryReady otherwise.
	Lease(ctx context.Context, workerID string, visibility time.Duration) (*QueueEntry, error)

	// LeaseJob acquires a specific entry if it is ready
	LeaseJob(ctx context.Context, jobID, workerID string, visibility time.Duration) (*QueueEntry, error)

	// Ack removes the entry; called only once the job is terminal
	Ack(ctx context.Context, jobID string) error

	// Nack records a failed attempt: increments attempts, clears the lock,
	// schedules the next run with exponential backoff, or dead-letters the
	// entry once attempts reach the budget.
	Nack(ctx context.Context, jobID, reason string) (*NackResult, error)

	// DueJobIDs lists entries ready for (re)delivery, oldest first
	DueJobIDs(ctx context.Context, limit int) ([]string, error)

	Entry(ctx context.Context, jobID string) (*QueueEntry, error)
}

// SubmitParams is the provider submission request
type SubmitParams struct {
	JobID  string
	Params GenerationParams
}

// ProviderClient is the abstract interface to the external generation
// service. Submit failures map onto ErrProviderUnavailable, ErrInvalidParams
// or ErrQuotaExceeded.
type ProviderClient interface {
	Submit(ctx context.Context, params SubmitParams) (providerJobID string, err error)
	PollStatus(ctx context.Context, providerJobID string) (*ProviderResult, error)
}

// ArtifactPublisher uploads a finished artifact to durable storage and
// returns its stable URL. Failures are non-fatal to job completion.
type ArtifactPublisher interface {
	Publish(ctx context.Context, sourceURL string) (*PublishedArtifact, error)
}

// WakeupNotifier signals workers that a job id may be ready for leasing.
// Notification is best effort; the queue's scheduled scan redelivers.
type WakeupNotifier interface {
	NotifyReady(ctx context.Context, jobID string) error
}
