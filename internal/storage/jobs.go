package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/inkpress/docflow-be/internal/domain"
)

// JobStore handles job persistence: create, atomic claim, terminal update.
type JobStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewJobStore creates a JobStore.
func NewJobStore(db *sqlx.DB, logger *slog.Logger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

// Create inserts a new pending job.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (job_id, job_type, status, payload, submitter_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`
	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.JobType,
		domain.JobStatusPending,
		[]byte(job.Payload),
		job.SubmitterID,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Get retrieves a job by id.
func (s *JobStore) Get(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	query := `
		SELECT job_id, job_type, status, payload, result, error_message, submitter_id, worker_id, created_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`

	var job domain.Job
	var result []byte
	err := s.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.JobID,
		&job.JobType,
		&job.Status,
		(*[]byte)(&job.Payload),
		&result,
		&job.ErrorMsg,
		&job.SubmitterID,
		&job.WorkerID,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	job.Result = result
	return &job, nil
}

// ClaimNextPending atomically claims the oldest pending job for workerID,
// flipping it to processing in the same statement. Returns (nil, nil) when
// no pending job exists. The claim must be atomic: without it two concurrent
// workers could process the same batch twice.
func (s *JobStore) ClaimNextPending(ctx context.Context, workerID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    updated_at = NOW()
		WHERE job_id = (
			SELECT job_id FROM jobs
			WHERE status = $3
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING job_id, job_type, payload, submitter_id, created_at, updated_at
	`

	var job domain.Job
	err := s.db.QueryRowContext(ctx, query,
		domain.JobStatusProcessing, workerID, domain.JobStatusPending,
	).Scan(
		&job.JobID,
		&job.JobType,
		(*[]byte)(&job.Payload),
		&job.SubmitterID,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.JobStatusProcessing
	job.WorkerID = &workerID

	s.logger.Info("job claimed",
		slog.String("job_id", job.JobID.String()),
		slog.String("worker_id", workerID),
		slog.String("job_type", job.JobType),
	)
	return &job, nil
}

// Finish writes a job's terminal state: completed with a result, or failed
// with an error message.
func (s *JobStore) Finish(ctx context.Context, jobID uuid.UUID, status string, result *domain.BatchResult, errorMsg string) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    result = $2,
		    error_message = NULLIF($3, ''),
		    updated_at = NOW()
		WHERE job_id = $4
	`
	if _, err := s.db.ExecContext(ctx, query, status, resultJSON, errorMsg, jobID); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Info("job finished",
		slog.String("job_id", jobID.String()),
		slog.String("status", status),
	)
	return nil
}
