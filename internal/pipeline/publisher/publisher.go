package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
)

const defaultPublishTimeout = 60 * time.Second

// Config holds media store connection settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPPublisher implements domain.ArtifactPublisher against the media
// store's ingestion API. Publish failures are reported to the caller but
// are non-fatal for job completion.
type HTTPPublisher struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a publisher. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *HTTPPublisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPublishTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPPublisher{cfg: cfg, httpClient: httpClient, logger: logger}
}

type publishRequest struct {
	SourceURL string `json:"source_url"`
}

type publishResponse struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Publish copies the provider artifact into durable storage and returns its
// stable URL
func (p *HTTPPublisher) Publish(ctx context.Context, sourceURL string) (*domain.PublishedArtifact, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(publishRequest{SourceURL: sourceURL})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPublishFailed, err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.cfg.BaseURL+"/v1/artifacts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPublishFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPublishFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: unexpected status %d", domain.ErrPublishFailed, resp.StatusCode)
	}

	var out publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", domain.ErrPublishFailed, err)
	}
	if out.URL == "" {
		return nil, fmt.Errorf("%w: response missing url", domain.ErrPublishFailed)
	}

	p.logger.Info("Artifact published",
		slog.String("source_url", sourceURL),
		slog.String("permanent_url", out.URL),
	)

	return &domain.PublishedArtifact{
		PermanentURL: out.URL,
		ThumbnailURL: out.ThumbnailURL,
	}, nil
}
