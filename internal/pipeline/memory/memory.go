// Package memory provides in-memory JobStore and Queue implementations
// with the same semantics as the PostgreSQL ones. They back package tests
// and local runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
	"github.com/courseloom/videogen-be/internal/pipeline/queue"
)

// Store is an in-memory domain.JobStore
type Store struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	events map[string][]domain.JobEvent
	nextID int64

	// Now is the clock used for timestamps; overridable in tests
	Now func() time.Time
}

// NewStore creates an empty in-memory job store
func NewStore() *Store {
	return &Store{
		jobs:   make(map[string]*domain.Job),
		events: make(map[string][]domain.JobEvent),
		Now:    time.Now,
	}
}

func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; exists {
		return domain.ErrDuplicateJob
	}

	now := s.Now()
	cp := *job
	cp.Status = domain.JobStatusPending
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.jobs[job.JobID] = &cp
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *Store) GetJobByProviderID(_ context.Context, providerJobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if providerJobID == "" {
		return nil, domain.ErrJobNotFound
	}
	for _, job := range s.jobs {
		if job.ProviderJobID == providerJobID {
			cp := *job
			return &cp, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (s *Store) ListJobs(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []domain.Job
	for _, job := range s.jobs {
		if filter.OwnerRef != "" && job.OwnerRef != filter.OwnerRef {
			continue
		}
		if filter.Status != "" && string(job.Status) != filter.Status {
			continue
		}
		jobs = append(jobs, *job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].JobID > jobs[j].JobID
	})

	if filter.Cursor != nil {
		filtered := jobs[:0]
		for _, job := range jobs {
			if job.CreatedAt.Before(filter.Cursor.CreatedAt) ||
				(job.CreatedAt.Equal(filter.Cursor.CreatedAt) && job.JobID < filter.Cursor.JobID) {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}

	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}
	return jobs, nil
}

func (s *Store) TransitionJob(_ context.Context, jobID string, from []domain.JobStatus, to domain.JobStatus, mut domain.JobMutation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false, nil
	}

	matched := false
	for _, st := range from {
		if job.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	now := s.Now()
	job.Status = to
	if mut.Progress != nil {
		job.Progress = *mut.Progress
	}
	if mut.ResultURL != nil {
		job.ResultURL = *mut.ResultURL
	}
	if mut.ThumbnailURL != nil {
		job.ThumbnailURL = *mut.ThumbnailURL
	}
	if mut.DurationSeconds != nil {
		job.DurationSeconds = *mut.DurationSeconds
	}
	if mut.ErrorMessage != nil {
		job.ErrorMessage = *mut.ErrorMessage
	}
	if mut.ErrorCode != nil {
		job.ErrorCode = *mut.ErrorCode
	}
	if mut.RetryCount != nil {
		job.RetryCount = *mut.RetryCount
	}
	if mut.SetStartedAt && job.StartedAt == nil {
		t := now
		job.StartedAt = &t
	}
	if mut.SetCompletedAt {
		t := now
		job.CompletedAt = &t
	}
	job.UpdatedAt = now
	return true, nil
}

func (s *Store) SetProviderJobID(_ context.Context, jobID, providerJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.ProviderJobID == "" {
		job.ProviderJobID = providerJobID
		job.UpdatedAt = s.Now()
		return nil
	}
	if job.ProviderJobID == providerJobID {
		return nil
	}
	return domain.ErrProviderIDConflict
}

func (s *Store) SetProgress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status == domain.JobStatusProcessing && job.Progress < progress {
		job.Progress = progress
		job.UpdatedAt = s.Now()
	}
	return nil
}

func (s *Store) AppendEvent(_ context.Context, event *domain.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	cp := *event
	cp.ID = s.nextID
	cp.CreatedAt = s.Now()
	s.events[event.JobID] = append(s.events[event.JobID], cp)
	return nil
}

func (s *Store) ListEvents(_ context.Context, jobID string) ([]domain.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]domain.JobEvent, len(s.events[jobID]))
	copy(events, s.events[jobID])
	return events, nil
}

var _ domain.JobStore = (*Store)(nil)

// Queue is an in-memory domain.Queue with the same lease/backoff semantics
// as the PostgreSQL queue
type Queue struct {
	mu      sync.Mutex
	entries map[string]*domain.QueueEntry

	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Now is the clock used for scheduling; overridable in tests
	Now func() time.Time
}

// NewQueue creates an empty in-memory queue
func NewQueue() *Queue {
	return &Queue{
		entries:     make(map[string]*domain.QueueEntry),
		BackoffBase: queue.DefaultBackoffBase,
		BackoffCap:  queue.DefaultBackoffCap,
		Now:         time.Now,
	}
}

func (q *Queue) Enqueue(_ context.Context, opts domain.EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = domain.DefaultMaxRetries
	}
	if opts.IdempotencyKey == "" {
		opts.IdempotencyKey = opts.JobID
	}

	// Live entries block re-admission; a dead-lettered entry for the same
	// job is replaced below, matching the conditional upsert in the
	// PostgreSQL queue.
	for _, entry := range q.entries {
		if !entry.DeadLettered &&
			(entry.JobID == opts.JobID || entry.IdempotencyKey == opts.IdempotencyKey) {
			return domain.ErrDuplicateJob
		}
	}

	now := q.Now()
	q.entries[opts.JobID] = &domain.QueueEntry{
		JobID:          opts.JobID,
		IdempotencyKey: opts.IdempotencyKey,
		MaxAttempts:    opts.MaxAttempts,
		NextRunAt:      now,
		CreatedAt:      now,
	}
	return nil
}

func (q *Queue) ready(entry *domain.QueueEntry, now time.Time) bool {
	if entry.DeadLettered || entry.NextRunAt.After(now) {
		return false
	}
	return entry.LockedBy == nil || !entry.LockExpiresAt.After(now)
}

func (q *Queue) lock(entry *domain.QueueEntry, workerID string, visibility time.Duration, now time.Time) *domain.QueueEntry {
	worker := workerID
	expires := now.Add(visibility)
	entry.LockedBy = &worker
	entry.LockExpiresAt = &expires
	cp := *entry
	return &cp
}

func (q *Queue) Lease(_ context.Context, workerID string, visibility time.Duration) (*domain.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now()
	var oldest *domain.QueueEntry
	for _, entry := range q.entries {
		if !q.ready(entry, now) {
			continue
		}
		if oldest == nil || entry.NextRunAt.Before(oldest.NextRunAt) {
			oldest = entry
		}
	}
	if oldest == nil {
		return nil, domain.ErrNoEntryReady
	}
	return q.lock(oldest, workerID, visibility, now), nil
}

func (q *Queue) LeaseJob(_ context.Context, jobID, workerID string, visibility time.Duration) (*domain.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now()
	entry, ok := q.entries[jobID]
	if !ok || !q.ready(entry, now) {
		return nil, domain.ErrNoEntryReady
	}
	return q.lock(entry, workerID, visibility, now), nil
}

func (q *Queue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.entries, jobID)
	return nil
}

func (q *Queue) Nack(_ context.Context, jobID, reason string) (*domain.NackResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[jobID]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}

	delay := queue.NextBackoff(q.BackoffBase, q.BackoffCap, entry.Attempts)
	entry.Attempts++
	entry.DeadLettered = entry.Attempts >= entry.MaxAttempts
	entry.LastError = reason
	entry.NextRunAt = q.Now().Add(delay)
	entry.LockedBy = nil
	entry.LockExpiresAt = nil

	return &domain.NackResult{
		Attempts:     entry.Attempts,
		DeadLettered: entry.DeadLettered,
		NextRunAt:    entry.NextRunAt,
	}, nil
}

func (q *Queue) DueJobIDs(_ context.Context, limit int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now()
	var due []*domain.QueueEntry
	for _, entry := range q.entries {
		if q.ready(entry, now) {
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(due[j].NextRunAt)
	})

	ids := make([]string, 0, len(due))
	for _, entry := range due {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, entry.JobID)
	}
	return ids, nil
}

func (q *Queue) Entry(_ context.Context, jobID string) (*domain.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[jobID]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	cp := *entry
	return &cp, nil
}

var _ domain.Queue = (*Queue)(nil)
