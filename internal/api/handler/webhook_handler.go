package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/courseloom/videogen-be/internal/api/dto"
	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

// ProviderWebhook handles POST /api/v1/webhooks/provider
// Applies a provider status callback to the referenced job. The webhook and
// the reconciliation poller race on the same terminal transition; whichever
// observes first wins and the other is acknowledged as a no-op.
func (h *WebhookHandler) ProviderWebhook(c *gin.Context) {
	var req dto.ProviderWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid webhook body",
		})
		return
	}

	job, err := h.resolveJob(c, &req)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No job matches the callback reference",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to resolve job",
		})
		return
	}

	h.logger.Info("Provider webhook received",
		slog.String("job_id", job.JobID),
		slog.String("provider_status", req.Status),
	)

	switch domain.ProviderStatus(req.Status) {
	case domain.ProviderStatusCompleted:
		err = h.lifecycle.CompleteFromProvider(c.Request.Context(), job.JobID, domain.ProviderResult{
			Status:          domain.ProviderStatusCompleted,
			ResultURL:       req.VideoURL,
			ThumbnailURL:    req.ThumbnailURL,
			DurationSeconds: req.DurationSeconds,
		})

	case domain.ProviderStatusFailed:
		err = h.lifecycle.FailOrRetry(c.Request.Context(), job.JobID, &domain.ProviderFailure{
			Code:    req.ErrorCode,
			Message: req.ErrorMessage,
		})

	case domain.ProviderStatusPending, domain.ProviderStatusProcessing:
		// Progress-only callback; the poller owns intermediate updates.
		c.JSON(http.StatusAccepted, gin.H{
			"job_id": job.JobID,
			"result": "acknowledged",
		})
		return

	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown provider status",
		})
		return
	}

	if err != nil {
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			c.JSON(http.StatusOK, gin.H{
				"job_id": job.JobID,
				"result": "already finalized",
			})
			return
		}
		h.logger.Error("Failed to apply provider webhook",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to apply webhook",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": job.JobID,
		"result": "applied",
	})
}

// resolveJob finds the job a callback refers to, preferring our own job id
// over the provider's
func (h *WebhookHandler) resolveJob(c *gin.Context, req *dto.ProviderWebhookRequest) (*domain.Job, error) {
	if req.ReferenceID != "" {
		job, err := h.store.GetJob(c.Request.Context(), req.ReferenceID)
		if err == nil || !errors.Is(err, domain.ErrJobNotFound) {
			return job, err
		}
	}
	if req.ProviderJobID != "" {
		return h.store.GetJobByProviderID(c.Request.Context(), req.ProviderJobID)
	}
	return nil, domain.ErrJobNotFound
}
