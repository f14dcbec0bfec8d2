package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
	"github.com/courseloom/videogen-be/internal/pipeline/memory"
)

type fakePublisher struct {
	artifact *domain.PublishedArtifact
	err      error
	calls    int
}

func (p *fakePublisher) Publish(_ context.Context, _ string) (*domain.PublishedArtifact, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.artifact, nil
}

type fixture struct {
	store     *memory.Store
	queue     *memory.Queue
	publisher *fakePublisher
	manager   *Manager
}

func newFixture(t *testing.T, pub *fakePublisher) *fixture {
	t.Helper()

	store := memory.NewStore()
	queue := memory.NewQueue()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &fixture{
		store:     store,
		queue:     queue,
		publisher: pub,
		manager:   NewManager(store, queue, pub, logger),
	}
}

func (f *fixture) createProcessingJob(t *testing.T, jobID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.store.CreateJob(ctx, &domain.Job{
		JobID:      jobID,
		OwnerRef:   "lesson-1",
		Payload:    []byte(`{"prompt":"intro"}`),
		MaxRetries: domain.DefaultMaxRetries,
	}))
	require.NoError(t, f.queue.Enqueue(ctx, domain.EnqueueOptions{JobID: jobID}))

	ok, err := f.store.TransitionJob(ctx, jobID,
		[]domain.JobStatus{domain.JobStatusPending},
		domain.JobStatusProcessing,
		domain.JobMutation{SetStartedAt: true},
	)
	require.NoError(t, err)
	require.True(t, ok)
}

func eventTypes(t *testing.T, store *memory.Store, jobID string) []domain.EventType {
	t.Helper()
	events, err := store.ListEvents(context.Background(), jobID)
	require.NoError(t, err)
	types := make([]domain.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.EventType
	}
	return types
}

func TestCompleteFromProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakePublisher{
		artifact: &domain.PublishedArtifact{
			PermanentURL: "https://media.example.com/final.mp4",
			ThumbnailURL: "https://media.example.com/final.jpg",
		},
	})
	f.createProcessingJob(t, "job-1")

	err := f.manager.CompleteFromProvider(ctx, "job-1", domain.ProviderResult{
		Status:          domain.ProviderStatusCompleted,
		ResultURL:       "https://provider.example.com/tmp.mp4",
		ThumbnailURL:    "https://provider.example.com/tmp.jpg",
		DurationSeconds: 30,
	})
	require.NoError(t, err)

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "https://media.example.com/final.mp4", job.ResultURL)
	assert.Equal(t, "https://media.example.com/final.jpg", job.ThumbnailURL)
	assert.Equal(t, 30, job.DurationSeconds)
	assert.NotNil(t, job.CompletedAt)

	assert.Equal(t, []domain.EventType{domain.EventCompleted}, eventTypes(t, f.store, "job-1"))

	// Entry removed on completion.
	_, err = f.queue.Entry(ctx, "job-1")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestCompleteFromProvider_PublishFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakePublisher{err: domain.ErrPublishFailed})
	f.createProcessingJob(t, "job-1")

	err := f.manager.CompleteFromProvider(ctx, "job-1", domain.ProviderResult{
		Status:    domain.ProviderStatusCompleted,
		ResultURL: "https://provider.example.com/tmp.mp4",
	})
	require.NoError(t, err, "publish failure must not fail completion")

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, "https://provider.example.com/tmp.mp4", job.ResultURL,
		"provider url kept as degraded fallback")

	types := eventTypes(t, f.store, "job-1")
	assert.Equal(t, []domain.EventType{domain.EventPublishError, domain.EventCompleted}, types)
}

func TestCompleteFromProvider_DuplicateObserversConverge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakePublisher{
		artifact: &domain.PublishedArtifact{PermanentURL: "https://media.example.com/final.mp4"},
	})
	f.createProcessingJob(t, "job-1")

	res := domain.ProviderResult{
		Status:    domain.ProviderStatusCompleted,
		ResultURL: "https://provider.example.com/tmp.mp4",
	}

	require.NoError(t, f.manager.CompleteFromProvider(ctx, "job-1", res))

	// The second observer (poller or webhook, whichever lost) is a no-op.
	err := f.manager.CompleteFromProvider(ctx, "job-1", res)
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)

	assert.Equal(t, 1, f.publisher.calls)
	assert.Equal(t, []domain.EventType{domain.EventCompleted}, eventTypes(t, f.store, "job-1"))
}

func TestFailOrRetry_SchedulesRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakePublisher{})
	f.createProcessingJob(t, "job-1")

	err := f.manager.FailOrRetry(ctx, "job-1", domain.ErrProviderUnavailable)
	require.NoError(t, err)

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status, "job returns to PENDING for retry")
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "PROVIDER_UNAVAILABLE", job.ErrorCode)
	assert.NotEmpty(t, job.ErrorMessage)

	assert.Equal(t, []domain.EventType{domain.EventQueued}, eventTypes(t, f.store, "job-1"))

	entry, err := f.queue.Entry(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Attempts)
	assert.False(t, entry.DeadLettered)
}

func TestFailOrRetry_DuplicateObserversBurnOneAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakePublisher{})
	f.createProcessingJob(t, "job-1")

	cause := &domain.ProviderFailure{Code: "PROVIDER_FAILED", Message: "render crashed"}
	require.NoError(t, f.manager.FailOrRetry(ctx, "job-1", cause))

	// The webhook and the poller can observe the same failure; the loser of
	// the PROCESSING→PENDING claim must not nack a second time.
	assert.ErrorIs(t, f.manager.FailOrRetry(ctx, "job-1", cause), domain.ErrAlreadyTerminal)

	entry, err := f.queue.Entry(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Attempts, "one failure burns one attempt")
	assert.False(t, entry.DeadLettered)

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount, "retry count stays in step with entry attempts")

	assert.Equal(t, []domain.EventType{domain.EventQueued}, eventTypes(t, f.store, "job-1"))
}

func TestFailOrRetry_ExhaustsBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakePublisher{})
	f.createProcessingJob(t, "job-1")

	cause := domain.ErrProviderUnavailable
	for i := 0; i < domain.DefaultMaxRetries; i++ {
		require.NoError(t, f.manager.FailOrRetry(ctx, "job-1", cause))

		if i < domain.DefaultMaxRetries-1 {
			// Simulate the worker picking the job up again.
			ok, err := f.store.TransitionJob(ctx, "job-1",
				[]domain.JobStatus{domain.JobStatusPending},
				domain.JobStatusProcessing, domain.JobMutation{})
			require.NoError(t, err)
			require.True(t, ok)
		}
	}

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, domain.DefaultMaxRetries, job.RetryCount)
	assert.Equal(t, "PROVIDER_UNAVAILABLE", job.ErrorCode)
	assert.NotNil(t, job.CompletedAt)

	types := eventTypes(t, f.store, "job-1")
	assert.Equal(t, []domain.EventType{
		domain.EventQueued, domain.EventQueued, domain.EventFailed,
	}, types)

	entry, err := f.queue.Entry(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, entry.DeadLettered, "dead-lettered entry retained for inspection")
}

func TestFailOrRetry_MissingEntryMeansFinished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakePublisher{})

	// PROCESSING job whose entry was already removed (cancel race).
	require.NoError(t, f.store.CreateJob(ctx, &domain.Job{JobID: "job-1"}))
	ok, err := f.store.TransitionJob(ctx, "job-1",
		[]domain.JobStatus{domain.JobStatusPending},
		domain.JobStatusProcessing, domain.JobMutation{})
	require.NoError(t, err)
	require.True(t, ok)

	err = f.manager.FailOrRetry(ctx, "job-1", errors.New("boom"))
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
}

func TestFailOrRetry_UnclaimedJobIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakePublisher{})

	// PENDING job with a live entry: nothing is processing it, so there is
	// no attempt to account for.
	require.NoError(t, f.store.CreateJob(ctx, &domain.Job{JobID: "job-1"}))
	require.NoError(t, f.queue.Enqueue(ctx, domain.EnqueueOptions{JobID: "job-1"}))

	err := f.manager.FailOrRetry(ctx, "job-1", errors.New("boom"))
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)

	entry, err := f.queue.Entry(ctx, "job-1")
	require.NoError(t, err)
	assert.Zero(t, entry.Attempts, "no nack without a claim")
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakePublisher{})
	f.createProcessingJob(t, "job-1")

	require.NoError(t, f.manager.Cancel(ctx, "job-1"))

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)

	_, err = f.queue.Entry(ctx, "job-1")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)

	// A second cancel, or any completion attempt, is a no-op.
	assert.ErrorIs(t, f.manager.Cancel(ctx, "job-1"), domain.ErrAlreadyTerminal)
	assert.ErrorIs(t, f.manager.CompleteFromProvider(ctx, "job-1", domain.ProviderResult{
		Status: domain.ProviderStatusCompleted,
	}), domain.ErrAlreadyTerminal)
}
