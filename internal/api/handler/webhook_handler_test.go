package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

func (f *apiFixture) createProcessingJob(t *testing.T, jobID string) {
	t.Helper()
	ctx := context.Background()

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/jobs", gin.H{
		"job_id": jobID, "owner_ref": "lesson-1", "prompt": "intro",
	}).Code)

	ok, err := f.store.TransitionJob(ctx, jobID,
		[]domain.JobStatus{domain.JobStatusPending},
		domain.JobStatusProcessing,
		domain.JobMutation{SetStartedAt: true})
	require.NoError(t, err)
	require.True(t, ok)
}

func webhookResult(t *testing.T, body []byte) string {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(body, &resp))
	result, _ := resp["result"].(string)
	return result
}

func TestProviderWebhook_Completed(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)
	f.createProcessingJob(t, "job-1")

	w := f.do(t, http.MethodPost, "/api/v1/webhooks/provider", gin.H{
		"reference_id":     "job-1",
		"status":           "completed",
		"video_url":        "https://provider.example.com/tmp.mp4",
		"duration_seconds": 30,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "applied", webhookResult(t, w.Body.Bytes()))

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, "https://media.example.com/final.mp4", job.ResultURL)
	assert.Equal(t, 30, job.DurationSeconds)

	_, err = f.queue.Entry(ctx, "job-1")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestProviderWebhook_ResolvesByProviderJobID(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)
	f.createProcessingJob(t, "job-1")
	require.NoError(t, f.store.SetProviderJobID(ctx, "job-1", "prov-7"))

	w := f.do(t, http.MethodPost, "/api/v1/webhooks/provider", gin.H{
		"job_id":    "prov-7",
		"status":    "completed",
		"video_url": "https://provider.example.com/tmp.mp4",
	})
	require.Equal(t, http.StatusOK, w.Code)

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
}

func TestProviderWebhook_FailedSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)
	f.createProcessingJob(t, "job-1")

	w := f.do(t, http.MethodPost, "/api/v1/webhooks/provider", gin.H{
		"reference_id":  "job-1",
		"status":        "failed",
		"error_code":    "RENDER_ERROR",
		"error_message": "render crashed",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "applied", webhookResult(t, w.Body.Bytes()))

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status, "failure below the budget schedules a retry")
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "RENDER_ERROR", job.ErrorCode)

	entry, err := f.queue.Entry(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Attempts)
}

func TestProviderWebhook_ProgressOnlyAcknowledged(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)
	f.createProcessingJob(t, "job-1")

	w := f.do(t, http.MethodPost, "/api/v1/webhooks/provider", gin.H{
		"reference_id": "job-1",
		"status":       "processing",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "acknowledged", webhookResult(t, w.Body.Bytes()))

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, job.Status, "no transition applied")
}

func TestProviderWebhook_AlreadyFinalized(t *testing.T) {
	f := newAPIFixture(t)
	f.createProcessingJob(t, "job-1")

	body := gin.H{
		"reference_id": "job-1",
		"status":       "completed",
		"video_url":    "https://provider.example.com/tmp.mp4",
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/webhooks/provider", body).Code)

	// The poller (or a duplicate delivery) observing later is a no-op.
	w := f.do(t, http.MethodPost, "/api/v1/webhooks/provider", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "already finalized", webhookResult(t, w.Body.Bytes()))
}

func TestProviderWebhook_BadRequests(t *testing.T) {
	f := newAPIFixture(t)
	f.createProcessingJob(t, "job-1")

	tests := []struct {
		name     string
		body     gin.H
		wantCode int
	}{
		{
			name:     "unknown provider status",
			body:     gin.H{"reference_id": "job-1", "status": "exploded"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing status",
			body:     gin.H{"reference_id": "job-1"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "no matching job",
			body:     gin.H{"reference_id": "missing", "status": "completed"},
			wantCode: http.StatusNotFound,
		},
		{
			name:     "no reference at all",
			body:     gin.H{"status": "completed"},
			wantCode: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/webhooks/provider", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}
