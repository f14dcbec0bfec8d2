package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/courseloom/videogen-be/internal/api/dto"
	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	timeFormat      = "2006-01-02T15:04:05Z07:00"
)

// CreateJob handles POST /api/v1/jobs
// Creates a video generation job and admits it to the queue. Creation is
// idempotent on job_id: resubmitting an existing id returns the stored job.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	payload, err := json.Marshal(domain.GenerationParams{
		Prompt:      req.Prompt,
		AvatarID:    req.AvatarID,
		VoiceID:     req.VoiceID,
		AspectRatio: req.AspectRatio,
		Locale:      req.Locale,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to encode generation params",
		})
		return
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	job := &domain.Job{
		JobID:      jobID,
		OwnerRef:   req.OwnerRef,
		Payload:    payload,
		MaxRetries: maxRetries,
	}

	if err := h.store.CreateJob(c.Request.Context(), job); err != nil {
		if errors.Is(err, domain.ErrDuplicateJob) {
			existing, gerr := h.store.GetJob(c.Request.Context(), jobID)
			if gerr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to load existing job",
				})
				return
			}
			// A failed enqueue on the original request can leave a PENDING
			// job without a queue entry; re-admit it so a caller retry
			// heals the partial create.
			if existing.Status == domain.JobStatusPending {
				qerr := h.queue.Enqueue(c.Request.Context(), domain.EnqueueOptions{
					JobID:       jobID,
					MaxAttempts: existing.MaxRetries,
				})
				switch {
				case qerr == nil:
					h.appendEvent(c, jobID, domain.EventQueued, "job queued for processing", nil)
				case !errors.Is(qerr, domain.ErrDuplicateJob):
					h.logger.Error("Failed to enqueue job",
						slog.String("job_id", jobID),
						slog.String("error", qerr.Error()),
					)
					c.JSON(http.StatusInternalServerError, gin.H{
						"error": "Failed to enqueue job",
					})
					return
				}
			}
			c.JSON(http.StatusOK, dto.FromJob(existing))
			return
		}
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	h.appendEvent(c, jobID, domain.EventCreated, "job accepted", nil)

	if err := h.queue.Enqueue(c.Request.Context(), domain.EnqueueOptions{
		JobID:       jobID,
		MaxAttempts: maxRetries,
	}); err != nil && !errors.Is(err, domain.ErrDuplicateJob) {
		h.logger.Error("Failed to enqueue job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	h.appendEvent(c, jobID, domain.EventQueued, "job queued for processing", nil)

	created, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load created job",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.FromJob(created))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the persisted state of a single job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), domain.JobFilter{
		OwnerRef: req.OwnerRef,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.FromJob(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&domain.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// ListEvents handles GET /api/v1/jobs/:job_id/events
// Returns the append-only audit trail of a job
func (h *JobHandler) ListEvents(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := h.store.GetJob(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	events, err := h.store.ListEvents(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error("Failed to list job events", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list job events",
		})
		return
	}

	eventResponse := make([]dto.JobEventDTO, len(events))
	for i, ev := range events {
		var metadata any
		if len(ev.Metadata) > 0 {
			_ = json.Unmarshal(ev.Metadata, &metadata)
		}
		eventResponse[i] = dto.JobEventDTO{
			ID:        ev.ID,
			EventType: string(ev.EventType),
			Message:   ev.Message,
			Metadata:  metadata,
			CreatedAt: ev.CreatedAt.Format(timeFormat),
		}
	}

	c.JSON(http.StatusOK, dto.ListEventsResponse{
		JobID:  jobID,
		Events: eventResponse,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a job that has not yet reached a terminal state
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := h.store.GetJob(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	if err := h.lifecycle.Cancel(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Job already in a terminal state",
			})
			return
		}
		h.logger.Error("Failed to cancel job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel job",
		})
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load cancelled job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

func (h *JobHandler) appendEvent(c *gin.Context, jobID string, eventType domain.EventType, message string, metadata map[string]any) {
	var raw []byte
	if metadata != nil {
		raw, _ = json.Marshal(metadata)
	}
	if err := h.store.AppendEvent(c.Request.Context(), &domain.JobEvent{
		JobID:     jobID,
		EventType: eventType,
		Message:   message,
		Metadata:  raw,
	}); err != nil {
		h.logger.Error("Failed to append job event",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
