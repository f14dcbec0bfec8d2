package handler

import (
	"log/slog"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
	"github.com/courseloom/videogen-be/internal/pipeline/lifecycle"
	"github.com/courseloom/videogen-be/internal/pipeline/stream"
	"github.com/courseloom/videogen-be/shared/postgresql"
	"github.com/courseloom/videogen-be/shared/rabbitmq"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client
	Store        domain.JobStore
	Queue        domain.Queue
	Lifecycle    *lifecycle.Manager
	Watcher      *stream.Watcher
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	store     domain.JobStore
	queue     domain.Queue
	lifecycle *lifecycle.Manager
	watcher   *stream.Watcher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		queue:     deps.Queue,
		lifecycle: deps.Lifecycle,
		watcher:   deps.Watcher,
	}
}

// WebhookHandler handles inbound provider callbacks
type WebhookHandler struct {
	logger    *slog.Logger
	store     domain.JobStore
	lifecycle *lifecycle.Manager
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		lifecycle: deps.Lifecycle,
	}
}
