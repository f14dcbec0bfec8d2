package dto

import (
	"time"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

// CreateJobRequest is the body for POST /api/v1/jobs. JobID is optional:
// callers that supply it get idempotent creation, otherwise one is assigned.
type CreateJobRequest struct {
	JobID       string `json:"job_id"`
	OwnerRef    string `json:"owner_ref" binding:"required"`
	Prompt      string `json:"prompt" binding:"required"`
	AvatarID    string `json:"avatar_id"`
	VoiceID     string `json:"voice_id"`
	AspectRatio string `json:"aspect_ratio"`
	Locale      string `json:"locale"`
	MaxRetries  int    `json:"max_retries"`
}

// ListJobsRequest is the query for GET /api/v1/jobs
type ListJobsRequest struct {
	OwnerRef string `form:"owner_ref"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

// ListJobsResponse is a page of jobs plus an optional continuation cursor
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the job representation returned by the API
type JobDTO struct {
	JobID           string     `json:"job_id"`
	OwnerRef        string     `json:"owner_ref"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	ResultURL       string     `json:"result_url,omitempty"`
	ThumbnailURL    string     `json:"thumbnail_url,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	ErrorMessage    string     `json:"error,omitempty"`
	ErrorCode       string     `json:"error_code,omitempty"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	CreatedAt       string     `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       string     `json:"updated_at"`
}

// FromJob maps a domain job onto the API representation
func FromJob(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:           job.JobID,
		OwnerRef:        job.OwnerRef,
		Status:          string(job.Status),
		Progress:        job.Progress,
		ResultURL:       job.ResultURL,
		ThumbnailURL:    job.ThumbnailURL,
		DurationSeconds: job.DurationSeconds,
		ErrorMessage:    job.ErrorMessage,
		ErrorCode:       job.ErrorCode,
		RetryCount:      job.RetryCount,
		MaxRetries:      job.MaxRetries,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
}

// JobEventDTO is one audit trail entry
type JobEventDTO struct {
	ID        int64  `json:"id"`
	EventType string `json:"event_type"`
	Message   string `json:"message,omitempty"`
	Metadata  any    `json:"metadata,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ListEventsResponse is the audit trail for one job
type ListEventsResponse struct {
	JobID  string        `json:"job_id"`
	Events []JobEventDTO `json:"events"`
}

// ProviderWebhookRequest is the inbound provider callback body. Either
// reference_id (our job id) or job_id (the provider's id) resolves the job.
type ProviderWebhookRequest struct {
	ReferenceID     string `json:"reference_id"`
	ProviderJobID   string `json:"job_id"`
	Status          string `json:"status" binding:"required"`
	VideoURL        string `json:"video_url"`
	ThumbnailURL    string `json:"thumbnail_url"`
	DurationSeconds int    `json:"duration_seconds"`
	ErrorCode       string `json:"error_code"`
	ErrorMessage    string `json:"error_message"`
}
