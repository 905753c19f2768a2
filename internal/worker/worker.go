package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/inkpress/docflow-be/internal/domain"
	"github.com/inkpress/docflow-be/internal/metrics"
	"github.com/inkpress/docflow-be/internal/notify"
)

// JobStore is the job persistence surface the worker needs. Ownership of a
// job comes exclusively from the atomic claim.
type JobStore interface {
	ClaimNextPending(ctx context.Context, workerID string) (*domain.Job, error)
	Finish(ctx context.Context, jobID uuid.UUID, status string, result *domain.BatchResult, errorMsg string) error
}

// Runner executes one claimed job to completion.
type Runner interface {
	Run(ctx context.Context, job *domain.Job) (*domain.BatchResult, error)
}

// Notifier pushes job outcomes to submitters. Best effort.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, payload interface{}) error
}

// Config holds worker configuration.
type Config struct {
	Logger       *slog.Logger
	Jobs         JobStore
	Runner       Runner
	Notifier     Notifier
	Wake         <-chan amqp.Delivery
	WorkerID     string
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
}

// Worker claims pending jobs and runs them. Each loop claims from the
// database; the broker message is only a wake-up hint, so a worker makes
// progress even when the broker is down or a hint was lost.
type Worker struct {
	logger       *slog.Logger
	jobs         JobStore
	runner       Runner
	notifier     Notifier
	wake         <-chan amqp.Delivery
	workerID     string
	concurrency  int
	pollInterval time.Duration
	jobTimeout   time.Duration
}

// New creates a worker.
func New(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	return &Worker{
		logger:       cfg.Logger,
		jobs:         cfg.Jobs,
		runner:       cfg.Runner,
		notifier:     cfg.Notifier,
		wake:         cfg.Wake,
		workerID:     workerID,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		jobTimeout:   cfg.JobTimeout,
	}
}

// Start runs the claim loops until ctx is canceled. It blocks; jobs in
// flight finish before it returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_interval", w.pollInterval),
	)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, slot)
		}(i)
	}
	wg.Wait()

	w.logger.Info("worker stopped", slog.String("worker_id", w.workerID))
	return nil
}

// loop claims and processes jobs until canceled. Between drains it sleeps on
// the poll ticker and the broker wake hints.
func (w *Worker) loop(ctx context.Context, slot int) {
	claimID := w.workerID
	if w.concurrency > 1 {
		claimID = fmt.Sprintf("%s/%d", w.workerID, slot)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	wake := w.wake
	w.drain(ctx, claimID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx, claimID)
		case _, ok := <-wake:
			if !ok {
				// Broker gone; keep polling.
				wake = nil
				continue
			}
			w.drain(ctx, claimID)
		}
	}
}

// drain claims and processes jobs until the queue is empty or the claim errors.
func (w *Worker) drain(ctx context.Context, claimID string) {
	for ctx.Err() == nil {
		job, err := w.jobs.ClaimNextPending(ctx, claimID)
		if err != nil {
			w.logger.Error("job claim failed",
				slog.String("worker_id", claimID),
				slog.String("error", err.Error()),
			)
			return
		}
		if job == nil {
			return
		}
		w.process(ctx, claimID, job)
	}
}

// process runs one claimed job to its terminal state and notifies the
// submitter of the outcome.
func (w *Worker) process(ctx context.Context, claimID string, job *domain.Job) {
	metrics.JobsClaimed.Inc()
	start := time.Now()

	runCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	result, err := w.runner.Run(runCtx, job)

	status := domain.JobStatusCompleted
	errorMsg := ""
	event := notify.EventBatchCompleted
	if err != nil {
		status = domain.JobStatusFailed
		errorMsg = err.Error()
		event = notify.EventBatchFailed
		w.logger.Error("job failed",
			slog.String("job_id", job.JobID.String()),
			slog.String("worker_id", claimID),
			slog.String("error", err.Error()),
		)
	}

	// Terminal writes use a fresh context so a canceled run still records
	// its outcome.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if finishErr := w.jobs.Finish(finishCtx, job.JobID, status, result, errorMsg); finishErr != nil {
		w.logger.Error("failed to record job outcome",
			slog.String("job_id", job.JobID.String()),
			slog.String("error", finishErr.Error()),
		)
	}

	metrics.JobsCompleted.WithLabelValues(status).Inc()
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	if w.notifier != nil {
		payload := map[string]interface{}{"job_id": job.JobID.String()}
		if err != nil {
			payload["error"] = errorMsg
		} else if result != nil {
			payload["rows"] = len(result.Rows)
		}
		if notifyErr := w.notifier.Notify(finishCtx, job.SubmitterID, event, payload); notifyErr != nil {
			w.logger.Warn("failed to notify submitter",
				slog.String("job_id", job.JobID.String()),
				slog.String("error", notifyErr.Error()),
			)
		}
	}

	w.logger.Info("job processed",
		slog.String("job_id", job.JobID.String()),
		slog.String("worker_id", claimID),
		slog.String("status", status),
		slog.Duration("duration", time.Since(start)),
	)
}
