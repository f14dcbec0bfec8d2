package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

// Store implements domain.JobStore on PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a job store backed by the given database
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateJob inserts a new job record in PENDING state
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, owner_ref, payload, status, progress,
			provider_job_id, result_url, thumbnail_url, duration_seconds,
			error_message, error_code, retry_count, max_retries,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, 0,
			'', '', '', 0,
			'', '', 0, $5,
			NOW(), NOW()
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.OwnerRef,
		job.Payload,
		domain.JobStatusPending,
		job.MaxRetries,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.ErrDuplicateJob
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("owner_ref", job.OwnerRef),
	)

	return nil
}

const jobColumns = `
	job_id, owner_ref, payload, status, progress,
	provider_job_id, result_url, thumbnail_url, duration_seconds,
	error_message, error_code, retry_count, max_retries,
	created_at, started_at, completed_at, updated_at
`

// GetJob fetches a job by its identifier
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetJobByProviderID resolves a job from the provider's identifier,
// used by the webhook path
func (s *Store) GetJobByProviderID(ctx context.Context, providerJobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE provider_job_id = $1 AND provider_job_id <> ''`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, providerJobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by provider id: %w", err)
	}
	return &job, nil
}

// ListJobs returns jobs matching the filter with keyset pagination. One
// extra row beyond PageSize is returned so callers can detect more results.
func (s *Store) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.OwnerRef != "" {
		query += fmt.Sprintf(" AND owner_ref = $%d", argIdx)
		args = append(args, filter.OwnerRef)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// TransitionJob performs the conditional status update guarding every
// lifecycle transition. The WHERE clause on the source states is what keeps
// racing owners (worker, poller, webhook) from double-applying a terminal
// transition.
func (s *Store) TransitionJob(ctx context.Context, jobID string, from []domain.JobStatus, to domain.JobStatus, mut domain.JobMutation) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $2,
		    progress = COALESCE($3, progress),
		    result_url = COALESCE($4, result_url),
		    thumbnail_url = COALESCE($5, thumbnail_url),
		    duration_seconds = COALESCE($6, duration_seconds),
		    error_message = COALESCE($7, error_message),
		    error_code = COALESCE($8, error_code),
		    retry_count = COALESCE($9, retry_count),
		    started_at = CASE WHEN $10 AND started_at IS NULL THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $11 THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND status = ANY($12)
	`

	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	res, err := s.db.ExecContext(ctx, query,
		jobID,
		to,
		mut.Progress,
		mut.ResultURL,
		mut.ThumbnailURL,
		mut.DurationSeconds,
		mut.ErrorMessage,
		mut.ErrorCode,
		mut.RetryCount,
		mut.SetStartedAt,
		mut.SetCompletedAt,
		pq.Array(fromStrs),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition job: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		s.logger.Debug("Job transition skipped - not in source state",
			slog.String("job_id", jobID),
			slog.String("to", string(to)),
		)
		return false, nil
	}

	s.logger.Info("Job transitioned",
		slog.String("job_id", jobID),
		slog.String("to", string(to)),
	)
	return true, nil
}

// SetProviderJobID records the provider's id for a submitted job. The id is
// set at most once; re-setting the same value is idempotent.
func (s *Store) SetProviderJobID(ctx context.Context, jobID, providerJobID string) error {
	query := `
		UPDATE jobs
		SET provider_job_id = $2,
		    updated_at = NOW()
		WHERE job_id = $1 AND provider_job_id = ''
	`

	res, err := s.db.ExecContext(ctx, query, jobID, providerJobID)
	if err != nil {
		return fmt.Errorf("failed to set provider job id: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.ProviderJobID == providerJobID {
		return nil
	}
	return domain.ErrProviderIDConflict
}

// SetProgress advances progress while the job is PROCESSING. The progress
// guard keeps the value monotonically non-decreasing under races.
func (s *Store) SetProgress(ctx context.Context, jobID string, progress int) error {
	query := `
		UPDATE jobs
		SET progress = $2,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND status = $3
		  AND progress < $2
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, progress, domain.JobStatusProcessing); err != nil {
		return fmt.Errorf("failed to set progress: %w", err)
	}
	return nil
}

// AppendEvent inserts an audit trail entry. Events are append-only.
func (s *Store) AppendEvent(ctx context.Context, event *domain.JobEvent) error {
	query := `
		INSERT INTO job_events (job_id, event_type, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	metadata := event.Metadata
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}

	if _, err := s.db.ExecContext(ctx, query, event.JobID, event.EventType, event.Message, metadata); err != nil {
		return fmt.Errorf("failed to append job event: %w", err)
	}
	return nil
}

// ListEvents returns the audit trail for a job in append order
func (s *Store) ListEvents(ctx context.Context, jobID string) ([]domain.JobEvent, error) {
	query := `
		SELECT id, job_id, event_type, message, metadata, created_at
		FROM job_events
		WHERE job_id = $1
		ORDER BY id ASC
	`

	var events []domain.JobEvent
	if err := s.db.SelectContext(ctx, &events, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list job events: %w", err)
	}
	return events, nil
}
