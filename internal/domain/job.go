package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job status constants. A job moves monotonically:
// pending -> processing -> completed | failed. Never re-enqueued automatically.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobTypeBulkBatch is currently the only job variant.
const JobTypeBulkBatch = "bulk_batch"

// Job is a persisted unit of deferred bulk work, consumed by exactly one
// worker claim.
type Job struct {
	JobID       uuid.UUID       `db:"job_id"`
	JobType     string          `db:"job_type"`
	Status      string          `db:"status"`
	Payload     json.RawMessage `db:"payload"`
	Result      json.RawMessage `db:"result"`
	ErrorMsg    *string         `db:"error_message"`
	SubmitterID string          `db:"submitter_id"`
	WorkerID    *string         `db:"worker_id"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// BatchPayload describes a full spreadsheet batch: which template to fill,
// how columns map to fields, and the raw tabular bytes.
type BatchPayload struct {
	TemplateID      uuid.UUID         `json:"template_id"`
	TenantID        *uuid.UUID        `json:"tenant_id,omitempty"`
	RecipientColumn string            `json:"recipient_column"`
	ColumnMapping   map[string]string `json:"column_mapping"` // column header -> field name
	FromAddress     string            `json:"from_address"`
	TabularData     []byte            `json:"tabular_data"`
	SubmitterID     string            `json:"submitter_id"`
}

// RowResult is one per-row outcome recorded for a successful batch.
type RowResult struct {
	DeliveryID  uuid.UUID `json:"delivery_id"`
	ArtifactURL string    `json:"artifact_url"`
	Token       string    `json:"token,omitempty"`
	Recipient   string    `json:"recipient"`
}

// BatchResult is the job result payload for a completed batch.
type BatchResult struct {
	Message string      `json:"message"`
	Rows    []RowResult `json:"rows"`
}
