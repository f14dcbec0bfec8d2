package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

func TestStreamJob_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/jobs/missing/stream", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamJob_TerminalJob(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)
	f.createProcessingJob(t, "job-1")

	resultURL := "https://media.example.com/final.mp4"
	progress := 100
	ok, err := f.store.TransitionJob(ctx, "job-1",
		[]domain.JobStatus{domain.JobStatusProcessing},
		domain.JobStatusCompleted,
		domain.JobMutation{
			Progress:       &progress,
			ResultURL:      &resultURL,
			SetCompletedAt: true,
		})
	require.NoError(t, err)
	require.True(t, ok)

	// A terminal job yields its snapshot and the stream ends after the
	// grace delay, so the request completes without a client disconnect.
	w := f.do(t, http.MethodGet, "/api/v1/jobs/job-1/stream", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "event:status")
	assert.Contains(t, body, `"status":"COMPLETED"`)
	assert.Contains(t, body, resultURL)
}
