package provider

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

const (
	defaultSubmitTimeout = 30 * time.Second
	defaultPollTimeout   = 10 * time.Second
)

// Config holds generation provider connection settings
type Config struct {
	BaseURL       string
	APIKey        string
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
}

// Client implements domain.ProviderClient against the provider's REST API
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a provider client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

type submitRequest struct {
	ReferenceID string `json:"reference_id"`
	Prompt      string `json:"prompt"`
	AvatarID    string `json:"avatar_id,omitempty"`
	VoiceID     string `json:"voice_id,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Locale      string `json:"locale,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
	Error string `json:"error,omitempty"`
}

// Submit asks the provider to start a generation and returns its job id.
// Status codes map onto the pipeline error taxonomy: 4xx validation
// failures to ErrInvalidParams, 429 to ErrQuotaExceeded, everything else
// (network errors, 5xx) to ErrProviderUnavailable.
func (c *Client) Submit(ctx context.Context, params domain.SubmitParams) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	body, err := json.Marshal(submitRequest{
		ReferenceID: params.JobID,
		Prompt:      params.Params.Prompt,
		AvatarID:    params.Params.AvatarID,
		VoiceID:     params.Params.VoiceID,
		AspectRatio: params.Params.AspectRatio,
		Locale:      params.Params.Locale,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	var out submitResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		if decodeErr != nil {
			return "", fmt.Errorf("%w: malformed submit response: %v", domain.ErrProviderUnavailable, decodeErr)
		}
		if out.JobID == "" {
			return "", fmt.Errorf("%w: submit response missing job id", domain.ErrProviderUnavailable)
		}
		c.logger.Info("Generation submitted to provider",
			slog.String("job_id", params.JobID),
			slog.String("provider_job_id", out.JobID),
		)
		return out.JobID, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, out.Error)

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidParams, out.Error)

	default:
		return "", fmt.Errorf("%w: unexpected status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
}

type pollResponse struct {
	Status          string `json:"status"`
	ResultURL       string `json:"result_url,omitempty"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Error           string `json:"error,omitempty"`
}

// PollStatus fetches the provider-side state of a submitted generation
func (c *Client) PollStatus(ctx context.Context, providerJobID string) (*domain.ProviderResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.BaseURL+"/v1/generations/"+providerJobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build poll request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var out pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: malformed poll response: %v", domain.ErrProviderUnavailable, err)
	}

	return &domain.ProviderResult{
		Status:          domain.ProviderStatus(out.Status),
		ResultURL:       out.ResultURL,
		ThumbnailURL:    out.ThumbnailURL,
		DurationSeconds: out.DurationSeconds,
		ErrorMessage:    out.Error,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}
