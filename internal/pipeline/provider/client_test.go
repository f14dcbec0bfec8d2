package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Submit(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantJobID     string
		wantErr       error
		wantErrSubstr string
	}{
		{
			name:      "accepted returns provider job id",
			status:    http.StatusAccepted,
			body:      `{"job_id":"prov-123"}`,
			wantJobID: "prov-123",
		},
		{
			name:      "ok also accepted",
			status:    http.StatusOK,
			body:      `{"job_id":"prov-456"}`,
			wantJobID: "prov-456",
		},
		{
			name:    "quota exceeded",
			status:  http.StatusTooManyRequests,
			body:    `{"error":"monthly quota exhausted"}`,
			wantErr: domain.ErrQuotaExceeded,
		},
		{
			name:    "bad request maps to invalid params",
			status:  http.StatusBadRequest,
			body:    `{"error":"prompt too long"}`,
			wantErr: domain.ErrInvalidParams,
		},
		{
			name:    "unprocessable entity maps to invalid params",
			status:  http.StatusUnprocessableEntity,
			body:    `{"error":"unknown avatar"}`,
			wantErr: domain.ErrInvalidParams,
		},
		{
			name:    "server error maps to provider unavailable",
			status:  http.StatusInternalServerError,
			body:    `{}`,
			wantErr: domain.ErrProviderUnavailable,
		},
		{
			name:          "missing job id in success response",
			status:        http.StatusOK,
			body:          `{}`,
			wantErr:       domain.ErrProviderUnavailable,
			wantErrSubstr: "missing job id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/v1/generations", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

				var req map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "job-1", req["reference_id"])
				assert.Equal(t, "a narrated lesson intro", req["prompt"])

				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(Config{
				BaseURL: srv.URL,
				APIKey:  "test-key",
			}, srv.Client(), testLogger())

			providerJobID, err := client.Submit(context.Background(), domain.SubmitParams{
				JobID: "job-1",
				Params: domain.GenerationParams{
					Prompt: "a narrated lesson intro",
				},
			})

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				if tt.wantErrSubstr != "" {
					assert.Contains(t, err.Error(), tt.wantErrSubstr)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantJobID, providerJobID)
		})
	}
}

func TestClient_Submit_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client := NewClient(Config{BaseURL: srv.URL}, nil, testLogger())

	_, err := client.Submit(context.Background(), domain.SubmitParams{
		JobID:  "job-1",
		Params: domain.GenerationParams{Prompt: "x"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestClient_PollStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    *domain.ProviderResult
		wantErr error
	}{
		{
			name:   "processing",
			status: http.StatusOK,
			body:   `{"status":"processing"}`,
			want: &domain.ProviderResult{
				Status: domain.ProviderStatusProcessing,
			},
		},
		{
			name:   "completed with result",
			status: http.StatusOK,
			body:   `{"status":"completed","result_url":"https://cdn.example.com/v.mp4","thumbnail_url":"https://cdn.example.com/v.jpg","duration_seconds":42}`,
			want: &domain.ProviderResult{
				Status:          domain.ProviderStatusCompleted,
				ResultURL:       "https://cdn.example.com/v.mp4",
				ThumbnailURL:    "https://cdn.example.com/v.jpg",
				DurationSeconds: 42,
			},
		},
		{
			name:   "failed with message",
			status: http.StatusOK,
			body:   `{"status":"failed","error":"render crashed"}`,
			want: &domain.ProviderResult{
				Status:       domain.ProviderStatusFailed,
				ErrorMessage: "render crashed",
			},
		},
		{
			name:    "non-200 maps to provider unavailable",
			status:  http.StatusBadGateway,
			body:    ``,
			wantErr: domain.ErrProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/generations/prov-9", r.URL.Path)

				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(Config{BaseURL: srv.URL}, srv.Client(), testLogger())

			res, err := client.PollStatus(context.Background(), "prov-9")

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
		})
	}
}
