package dto

import "encoding/json"

// CreateBatchResponse acknowledges an accepted batch job.
type CreateBatchResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobDTO is the job representation returned by the API. Result is the raw
// batch result document once the job completes.
type JobDTO struct {
	JobID       string          `json:"job_id"`
	JobType     string          `json:"job_type"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	SubmitterID string          `json:"submitter_id"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}
