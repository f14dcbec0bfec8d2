package publisher

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

func TestHTTPPublisher_Publish(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    *domain.PublishedArtifact
		wantErr bool
	}{
		{
			name:   "created with thumbnail",
			status: http.StatusCreated,
			body:   `{"url":"https://media.example.com/a.mp4","thumbnail_url":"https://media.example.com/a.jpg"}`,
			want: &domain.PublishedArtifact{
				PermanentURL: "https://media.example.com/a.mp4",
				ThumbnailURL: "https://media.example.com/a.jpg",
			},
		},
		{
			name:   "ok without thumbnail",
			status: http.StatusOK,
			body:   `{"url":"https://media.example.com/b.mp4"}`,
			want: &domain.PublishedArtifact{
				PermanentURL: "https://media.example.com/b.mp4",
			},
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `{"error":"disk full"}`,
			wantErr: true,
		},
		{
			name:    "success without url",
			status:  http.StatusOK,
			body:    `{}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/v1/artifacts", r.URL.Path)

				var req map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "https://provider.example.com/tmp.mp4", req["source_url"])

				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := New(Config{BaseURL: srv.URL}, srv.Client(), testLogger())

			artifact, err := p.Publish(context.Background(), "https://provider.example.com/tmp.mp4")

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrPublishFailed)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, artifact)
		})
	}
}

func TestHTTPPublisher_Publish_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := New(Config{BaseURL: srv.URL}, nil, testLogger())

	_, err := p.Publish(context.Background(), "https://provider.example.com/tmp.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPublishFailed)
}
