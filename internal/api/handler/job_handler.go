package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inkpress/docflow-be/internal/api/dto"
	"github.com/inkpress/docflow-be/internal/delivery"
	"github.com/inkpress/docflow-be/internal/domain"
)

// maxTabularBytes caps one uploaded spreadsheet.
const maxTabularBytes = 10 << 20

// CreateBatch handles POST /api/v1/batches.
// Accepts a spreadsheet upload, persists a pending job and publishes the
// wake-up hint. The batch itself runs on a worker.
func (h *Handler) CreateBatch(c *gin.Context) {
	templateID, err := uuid.Parse(c.PostForm("template_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template_id must be a valid UUID"})
		return
	}
	recipientColumn := c.PostForm("recipient_column")
	if recipientColumn == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_column is required"})
		return
	}
	fromAddress := c.PostForm("from_address")
	if fromAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from_address is required"})
		return
	}
	submitterID := c.GetHeader("X-User-ID")
	if submitterID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-User-ID header is required"})
		return
	}

	var tenantID *uuid.UUID
	if raw := c.PostForm("tenant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id must be a valid UUID"})
			return
		}
		tenantID = &id
	}

	var columnMapping map[string]string
	if raw := c.PostForm("column_mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &columnMapping); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "column_mapping must be a JSON object"})
			return
		}
	}

	file, _, err := c.Request.FormFile("tabular")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tabular file is required"})
		return
	}
	defer file.Close()

	tabularData, err := io.ReadAll(io.LimitReader(file, maxTabularBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read tabular file"})
		return
	}
	if len(tabularData) > maxTabularBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "tabular file too large"})
		return
	}

	ctx := c.Request.Context()

	// Resolve the template now so a bad id fails at intake, not on a worker.
	if _, err := h.templates.GetTemplate(ctx, templateID); err != nil {
		if delivery.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
			return
		}
		h.logger.Error("Failed to get template", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get template"})
		return
	}

	payload, err := json.Marshal(domain.BatchPayload{
		TemplateID:      templateID,
		TenantID:        tenantID,
		RecipientColumn: recipientColumn,
		ColumnMapping:   columnMapping,
		FromAddress:     fromAddress,
		TabularData:     tabularData,
		SubmitterID:     submitterID,
	})
	if err != nil {
		h.logger.Error("Failed to encode batch payload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create batch"})
		return
	}

	job := &domain.Job{
		JobID:       uuid.New(),
		JobType:     domain.JobTypeBulkBatch,
		Payload:     payload,
		SubmitterID: submitterID,
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create batch"})
		return
	}

	// The hint is best effort: a worker poll picks the job up even if the
	// publish is lost.
	hint, _ := json.Marshal(gin.H{"job_id": job.JobID.String()})
	if err := h.publisher.Publish(ctx, hint); err != nil {
		h.logger.Warn("Failed to publish job hint",
			slog.String("job_id", job.JobID.String()),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("batch accepted",
		slog.String("job_id", job.JobID.String()),
		slog.String("submitter_id", submitterID),
		slog.Int("tabular_bytes", len(tabularData)),
	)
	c.JSON(http.StatusAccepted, dto.CreateBatchResponse{
		JobID:  job.JobID.String(),
		Status: domain.JobStatusPending,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id.
// Returns the job's current status and, once terminal, its result or error.
func (h *Handler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		if delivery.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	out := dto.JobDTO{
		JobID:       job.JobID.String(),
		JobType:     job.JobType,
		Status:      job.Status,
		Result:      job.Result,
		SubmitterID: job.SubmitterID,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
	}
	if job.ErrorMsg != nil {
		out.Error = *job.ErrorMsg
	}
	c.JSON(http.StatusOK, out)
}
