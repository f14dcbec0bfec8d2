package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

// StreamJob handles GET /api/v1/jobs/:job_id/stream
// Streams status updates over SSE. The first event carries the current
// persisted status; the stream closes shortly after a terminal status or
// when the client disconnects.
func (h *JobHandler) StreamJob(c *gin.Context) {
	jobID := c.Param("job_id")

	updates, err := h.watcher.Watch(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to open status stream",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to open status stream",
		})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case snapshot, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("status", snapshot)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
