package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/courseloom/videogen-be/internal/pipeline/domain"
	"github.com/courseloom/videogen-be/internal/pipeline/lifecycle"
	"github.com/courseloom/videogen-be/internal/pipeline/reconcile"
	"github.com/courseloom/videogen-be/shared/rabbitmq"
)

const (
	defaultConcurrency       = 5
	defaultVisibilityTimeout = 15 * time.Minute
	defaultSubmitsPerMinute  = 10
	defaultScheduleInterval  = time.Second
	defaultScheduleBatch     = 50
)

// Config holds worker pool configuration
type Config struct {
	Logger       *slog.Logger
	RabbitClient *rabbitmq.Client
	Store        domain.JobStore
	Queue        domain.Queue
	Provider     domain.ProviderClient
	Lifecycle    *lifecycle.Manager
	Poller       *reconcile.Poller
	Notifier     domain.WakeupNotifier

	WorkerID          string
	Concurrency       int
	PrefetchCount     int
	VisibilityTimeout time.Duration
	SubmitsPerMinute  int
	ScheduleInterval  time.Duration
}

// Worker consumes wake-up messages, leases queue entries and drives the
// per-job generation state machine with bounded concurrency. A token
// bucket additionally caps provider submissions per minute independently
// of the goroutine count.
type Worker struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	store        domain.JobStore
	queue        domain.Queue
	provider     domain.ProviderClient
	lifecycle    *lifecycle.Manager
	poller       *reconcile.Poller
	notifier     domain.WakeupNotifier
	limiter      *rate.Limiter

	workerID         string
	concurrency      int
	prefetchCount    int
	visibility       time.Duration
	scheduleInterval time.Duration

	jobsChan chan *jobMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
}

type jobMessage struct {
	JobID       string
	DeliveryTag uint64
}

// New creates a worker instance
func New(cfg *Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = cfg.Concurrency
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = defaultVisibilityTimeout
	}
	if cfg.SubmitsPerMinute <= 0 {
		cfg.SubmitsPerMinute = defaultSubmitsPerMinute
	}
	if cfg.ScheduleInterval <= 0 {
		cfg.ScheduleInterval = defaultScheduleInterval
	}

	return &Worker{
		logger:           cfg.Logger,
		rabbitClient:     cfg.RabbitClient,
		store:            cfg.Store,
		queue:            cfg.Queue,
		provider:         cfg.Provider,
		lifecycle:        cfg.Lifecycle,
		poller:           cfg.Poller,
		notifier:         cfg.Notifier,
		limiter:          rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.SubmitsPerMinute)), 1),
		workerID:         cfg.WorkerID,
		concurrency:      cfg.Concurrency,
		prefetchCount:    cfg.PrefetchCount,
		visibility:       cfg.VisibilityTimeout,
		scheduleInterval: cfg.ScheduleInterval,
		jobsChan:         make(chan *jobMessage),
		stopChan:         make(chan struct{}),
	}
}

// Start begins consuming and processing jobs. It blocks until the context
// is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("visibility_timeout", w.visibility),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runScheduler(ctx)
	}()

	go w.startMessageDispatcher(ctx, deliveries)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker pool
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
