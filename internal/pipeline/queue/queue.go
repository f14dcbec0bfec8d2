package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

const pgUniqueViolation = "23505"

// Config holds queue scheduling parameters
type Config struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Queue implements domain.Queue on PostgreSQL. Entries are the durable
// scheduling records; leases are taken with a single conditional update so
// at most one worker holds a live lock per entry. An optional notifier
// publishes wake-ups so workers do not have to busy-poll the table.
type Queue struct {
	db       *sqlx.DB
	cfg      Config
	notifier domain.WakeupNotifier
	logger   *slog.Logger
}

// New creates a queue. notifier may be nil.
func New(db *sqlx.DB, cfg Config, notifier domain.WakeupNotifier, logger *slog.Logger) *Queue {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	return &Queue{db: db, cfg: cfg, notifier: notifier, logger: logger}
}

// Enqueue admits a job for processing. A live entry for the same job id or
// idempotency key is ErrDuplicateJob; a dead-lettered entry for the same
// job is replaced with a fresh one.
func (q *Queue) Enqueue(ctx context.Context, opts domain.EnqueueOptions) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = domain.DefaultMaxRetries
	}
	if opts.IdempotencyKey == "" {
		opts.IdempotencyKey = opts.JobID
	}

	query := `
		INSERT INTO queue_entries (
			job_id, idempotency_key, attempts, max_attempts,
			next_run_at, dead_lettered, last_error, created_at
		) VALUES ($1, $2, 0, $3, NOW(), FALSE, '', NOW())
		ON CONFLICT (job_id) DO UPDATE
		SET idempotency_key = EXCLUDED.idempotency_key,
		    attempts = 0,
		    max_attempts = EXCLUDED.max_attempts,
		    next_run_at = NOW(),
		    locked_by = NULL,
		    lock_expires_at = NULL,
		    dead_lettered = FALSE,
		    last_error = '',
		    created_at = NOW()
		WHERE queue_entries.dead_lettered
	`

	res, err := q.db.ExecContext(ctx, query, opts.JobID, opts.IdempotencyKey, opts.MaxAttempts)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return domain.ErrDuplicateJob
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	// A conflict with a live entry falls through the conditional upsert
	// without touching a row.
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	if affected == 0 {
		return domain.ErrDuplicateJob
	}

	q.logger.Info("Job enqueued",
		slog.String("job_id", opts.JobID),
		slog.Int("max_attempts", opts.MaxAttempts),
	)

	if q.notifier != nil {
		if err := q.notifier.NotifyReady(ctx, opts.JobID); err != nil {
			// Wake-up is best effort; the scheduler scan redelivers.
			q.logger.Warn("Failed to publish wake-up for enqueued job",
				slog.String("job_id", opts.JobID),
				slog.Any("error", err),
			)
		}
	}

	return nil
}

const entryColumns = `
	job_id, idempotency_key, attempts, max_attempts,
	next_run_at, locked_by, lock_expires_at, dead_lettered, last_error, created_at
`

// Lease acquires one ready entry for the worker. The nested SELECT with
// FOR UPDATE SKIP LOCKED plus the conditional UPDATE make the acquisition a
// single atomic read-modify-write, so two workers can never hold live locks
// on the same entry.
func (q *Queue) Lease(ctx context.Context, workerID string, visibility time.Duration) (*domain.QueueEntry, error) {
	query := `
		UPDATE queue_entries
		SET locked_by = $1,
		    lock_expires_at = NOW() + ($2 * INTERVAL '1 second')
		WHERE job_id = (
			SELECT job_id FROM queue_entries
			WHERE NOT dead_lettered
			  AND next_run_at <= NOW()
			  AND (locked_by IS NULL OR lock_expires_at <= NOW())
			ORDER BY next_run_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + entryColumns

	return q.scanLease(ctx, query, workerID, visibility.Seconds())
}

// LeaseJob acquires a specific entry if it is ready
func (q *Queue) LeaseJob(ctx context.Context, jobID, workerID string, visibility time.Duration) (*domain.QueueEntry, error) {
	query := `
		UPDATE queue_entries
		SET locked_by = $1,
		    lock_expires_at = NOW() + ($2 * INTERVAL '1 second')
		WHERE job_id = $3
		  AND NOT dead_lettered
		  AND next_run_at <= NOW()
		  AND (locked_by IS NULL OR lock_expires_at <= NOW())
		RETURNING ` + entryColumns

	return q.scanLease(ctx, query, workerID, visibility.Seconds(), jobID)
}

func (q *Queue) scanLease(ctx context.Context, query string, args ...interface{}) (*domain.QueueEntry, error) {
	var entry domain.QueueEntry
	if err := q.db.GetContext(ctx, &entry, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoEntryReady
		}
		return nil, fmt.Errorf("failed to lease queue entry: %w", err)
	}

	q.logger.Debug("Queue entry leased",
		slog.String("job_id", entry.JobID),
		slog.Int("attempts", entry.Attempts),
	)
	return &entry, nil
}

// Ack removes the entry after the job reached a terminal state
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to ack queue entry: %w", err)
	}

	q.logger.Debug("Queue entry acked", slog.String("job_id", jobID))
	return nil
}

// Nack records a failed attempt in one atomic update: the attempt counter,
// lock release, backoff schedule and dead-letter flag are all derived from
// the pre-update attempts value inside the statement.
func (q *Queue) Nack(ctx context.Context, jobID, reason string) (*domain.NackResult, error) {
	query := `
		UPDATE queue_entries
		SET attempts = attempts + 1,
		    dead_lettered = (attempts + 1 >= max_attempts),
		    last_error = $2,
		    next_run_at = NOW() + (LEAST($4, $3 * POWER(2, attempts)) * INTERVAL '1 second'),
		    locked_by = NULL,
		    lock_expires_at = NULL
		WHERE job_id = $1
		RETURNING attempts, dead_lettered, next_run_at
	`

	var res domain.NackResult
	row := q.db.QueryRowContext(ctx, query, jobID, reason,
		q.cfg.BackoffBase.Seconds(), q.cfg.BackoffCap.Seconds())
	if err := row.Scan(&res.Attempts, &res.DeadLettered, &res.NextRunAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to nack queue entry: %w", err)
	}

	q.logger.Info("Queue entry nacked",
		slog.String("job_id", jobID),
		slog.Int("attempts", res.Attempts),
		slog.Bool("dead_lettered", res.DeadLettered),
		slog.Time("next_run_at", res.NextRunAt),
	)
	return &res, nil
}

// DueJobIDs lists entries ready for (re)delivery, including entries whose
// lock expired after a worker crash
func (q *Queue) DueJobIDs(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT job_id FROM queue_entries
		WHERE NOT dead_lettered
		  AND next_run_at <= NOW()
		  AND (locked_by IS NULL OR lock_expires_at <= NOW())
		ORDER BY next_run_at ASC
		LIMIT $1
	`

	var ids []string
	if err := q.db.SelectContext(ctx, &ids, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list due queue entries: %w", err)
	}
	return ids, nil
}

// Entry fetches a queue entry by job id
func (q *Queue) Entry(ctx context.Context, jobID string) (*domain.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE job_id = $1`

	var entry domain.QueueEntry
	if err := q.db.GetContext(ctx, &entry, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return &entry, nil
}
