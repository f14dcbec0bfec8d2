package domain

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates the lifecycle states of a generation job
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusPublishing JobStatus = "PUBLISHING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are permitted from s
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// NonTerminalStatuses lists every state a job can still be moved out of
func NonTerminalStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusPublishing}
}

// DefaultMaxRetries is applied when a create request does not set a retry budget
const DefaultMaxRetries = 3

// Job represents one request to generate a video for a content unit.
// The job id is caller-assigned and doubles as the idempotency key.
type Job struct {
	JobID           string     `db:"job_id"`
	OwnerRef        string     `db:"owner_ref"`
	Payload         []byte     `db:"payload"`
	Status          JobStatus  `db:"status"`
	Progress        int        `db:"progress"`
	ProviderJobID   string     `db:"provider_job_id"`
	ResultURL       string     `db:"result_url"`
	ThumbnailURL    string     `db:"thumbnail_url"`
	DurationSeconds int        `db:"duration_seconds"`
	ErrorMessage    string     `db:"error_message"`
	ErrorCode       string     `db:"error_code"`
	RetryCount      int        `db:"retry_count"`
	MaxRetries      int        `db:"max_retries"`
	CreatedAt       time.Time  `db:"created_at"`
	StartedAt       *time.Time `db:"started_at"`
	CompletedAt     *time.Time `db:"completed_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// GenerationParams is the decoded job payload handed to the provider
type GenerationParams struct {
	Prompt      string `json:"prompt"`
	AvatarID    string `json:"avatar_id,omitempty"`
	VoiceID     string `json:"voice_id,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Locale      string `json:"locale,omitempty"`
}

// Params decodes the raw payload into generation parameters
func (j *Job) Params() (GenerationParams, error) {
	var p GenerationParams
	if len(j.Payload) == 0 {
		return p, ErrInvalidPayload
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, err
	}
	return p, nil
}

// JobMutation carries the optional field updates applied together with a
// status transition. Nil pointers leave the stored value untouched.
type JobMutation struct {
	Progress        *int
	ResultURL       *string
	ThumbnailURL    *string
	DurationSeconds *int
	ErrorMessage    *string
	ErrorCode       *string
	RetryCount      *int
	SetStartedAt    bool
	SetCompletedAt  bool
}

// QueueEntry is the scheduling record wrapping a job reference. It is owned
// exclusively by the queue: created on enqueue, deleted on ack, retained
// with dead_lettered=true once the attempt budget is exhausted.
type QueueEntry struct {
	JobID          string     `db:"job_id"`
	IdempotencyKey string     `db:"idempotency_key"`
	Attempts       int        `db:"attempts"`
	MaxAttempts    int        `db:"max_attempts"`
	NextRunAt      time.Time  `db:"next_run_at"`
	LockedBy       *string    `db:"locked_by"`
	LockExpiresAt  *time.Time `db:"lock_expires_at"`
	DeadLettered   bool       `db:"dead_lettered"`
	LastError      string     `db:"last_error"`
	CreatedAt      time.Time  `db:"created_at"`
}

// NackResult reports the outcome of a negative acknowledgement
type NackResult struct {
	Attempts     int
	DeadLettered bool
	NextRunAt    time.Time
}

// ProviderStatus enumerates the states reported by the generation provider
type ProviderStatus string

const (
	ProviderStatusPending    ProviderStatus = "pending"
	ProviderStatusProcessing ProviderStatus = "processing"
	ProviderStatusCompleted  ProviderStatus = "completed"
	ProviderStatusFailed     ProviderStatus = "failed"
)

// ProviderResult is the terminal outcome observed from the provider, either
// via a poll response or an inbound webhook
type ProviderResult struct {
	Status          ProviderStatus
	ResultURL       string
	ThumbnailURL    string
	DurationSeconds int
	ErrorMessage    string
}

// PublishedArtifact is the durable location returned by the artifact store
type PublishedArtifact struct {
	PermanentURL string
	ThumbnailURL string
}

// StatusSnapshot is the client-facing status read model
type StatusSnapshot struct {
	JobID           string     `json:"job_id"`
	OwnerRef        string     `json:"owner_ref"`
	Status          JobStatus  `json:"status"`
	Progress        int        `json:"progress"`
	ResultURL       string     `json:"result_url,omitempty"`
	ThumbnailURL    string     `json:"thumbnail_url,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	ErrorMessage    string     `json:"error,omitempty"`
	ErrorCode       string     `json:"error_code,omitempty"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Snapshot builds the status read model for a job
func (j *Job) Snapshot() StatusSnapshot {
	return StatusSnapshot{
		JobID:           j.JobID,
		OwnerRef:        j.OwnerRef,
		Status:          j.Status,
		Progress:        j.Progress,
		ResultURL:       j.ResultURL,
		ThumbnailURL:    j.ThumbnailURL,
		DurationSeconds: j.DurationSeconds,
		ErrorMessage:    j.ErrorMessage,
		ErrorCode:       j.ErrorCode,
		RetryCount:      j.RetryCount,
		MaxRetries:      j.MaxRetries,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}
