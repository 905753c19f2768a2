package bulk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/inkpress/docflow-be/internal/artifact"
	"github.com/inkpress/docflow-be/internal/delivery"
	"github.com/inkpress/docflow-be/internal/domain"
	"github.com/inkpress/docflow-be/internal/tabular"
)

// DeliveryService is the per-row pipeline the orchestrator drives.
type DeliveryService interface {
	Create(ctx context.Context, p delivery.CreateParams) (*domain.Delivery, error)
	Generate(ctx context.Context, templatePath string, tmpl *domain.Template, d *domain.Delivery) (artifact.Object, string, error)
	Compose(emailTmpl *domain.EmailTemplate, d *domain.Delivery) (subject, body string)
	SendNow(ctx context.Context, d *domain.Delivery, subject, body, attachmentPath string) error
}

// DeliveryStore is the slice of delivery persistence rollback needs.
type DeliveryStore interface {
	Delete(ctx context.Context, id uuid.UUID) error
}

// TemplateStore resolves the batch's template pair.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error)
	GetEmailTemplate(ctx context.Context, id uuid.UUID) (*domain.EmailTemplate, error)
}

// ArtifactStore is the object storage slice the orchestrator needs: one
// template download up front, per-document deletes on rollback.
type ArtifactStore interface {
	DownloadToTemp(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Orchestrator runs one bulk batch end to end. A batch is all-or-nothing:
// when any row fails, every delivery row and uploaded document already
// produced by this batch is compensated away before the error is returned.
type Orchestrator struct {
	svc        DeliveryService
	deliveries DeliveryStore
	templates  TemplateStore
	artifacts  ArtifactStore
	maxRows    int
	logger     *slog.Logger
}

// NewOrchestrator creates a batch orchestrator.
func NewOrchestrator(
	svc DeliveryService,
	deliveries DeliveryStore,
	templates TemplateStore,
	artifacts ArtifactStore,
	maxRows int,
	logger *slog.Logger,
) *Orchestrator {
	if maxRows <= 0 {
		maxRows = tabular.DefaultMaxRows
	}
	return &Orchestrator{
		svc:        svc,
		deliveries: deliveries,
		templates:  templates,
		artifacts:  artifacts,
		maxRows:    maxRows,
		logger:     logger,
	}
}

// compensation undoes one already-applied side effect of the batch.
type compensation struct {
	describe string
	undo     func(ctx context.Context) error
}

// Run executes the batch described by the job payload. On success it returns
// one result row per spreadsheet row. On failure it rolls the batch back and
// returns the row error. Local temp files are removed on every path.
func (o *Orchestrator) Run(ctx context.Context, job *domain.Job) (*domain.BatchResult, error) {
	var payload domain.BatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode batch payload: %w", err)
	}

	rows, err := tabular.ParseRows(bytes.NewReader(payload.TabularData), payload.RecipientColumn, o.maxRows)
	if err != nil {
		return nil, fmt.Errorf("parse tabular data: %w", err)
	}

	tmpl, err := o.templates.GetTemplate(ctx, payload.TemplateID)
	if err != nil {
		return nil, err
	}
	emailTmpl, err := o.templates.GetEmailTemplate(ctx, tmpl.EmailTemplateID)
	if err != nil {
		return nil, err
	}

	// One template download serves every row.
	templatePath, err := o.artifacts.DownloadToTemp(ctx, tmpl.ArtifactKey)
	if err != nil {
		return nil, err
	}

	tempPaths := []string{templatePath}
	defer func() {
		for _, p := range tempPaths {
			os.Remove(p)
		}
	}()

	var compensations []compensation
	results := make([]domain.RowResult, 0, len(rows))

	for i, row := range rows {
		result, finalPath, err := o.processRow(ctx, &payload, tmpl, emailTmpl, templatePath, row, &compensations)
		if finalPath != "" {
			tempPaths = append(tempPaths, finalPath)
		}
		if err != nil {
			o.logger.Error("batch row failed, rolling back",
				slog.String("job_id", job.JobID.String()),
				slog.Int("row", i+1),
				slog.String("recipient", row.Recipient),
				slog.String("error", err.Error()),
			)
			o.rollback(ctx, compensations)
			return nil, fmt.Errorf("row %d (%s): %w", i+1, row.Recipient, err)
		}
		results = append(results, result)
	}

	o.logger.Info("batch completed",
		slog.String("job_id", job.JobID.String()),
		slog.Int("rows", len(results)),
	)
	return &domain.BatchResult{
		Message: fmt.Sprintf("batch of %d deliveries completed", len(results)),
		Rows:    results,
	}, nil
}

// processRow runs one spreadsheet row through the delivery pipeline,
// registering a compensation for each side effect as it lands. It returns
// the path of the generated document so the caller can clean it up.
func (o *Orchestrator) processRow(
	ctx context.Context,
	payload *domain.BatchPayload,
	tmpl *domain.Template,
	emailTmpl *domain.EmailTemplate,
	templatePath string,
	row tabular.Row,
	compensations *[]compensation,
) (domain.RowResult, string, error) {
	d, err := o.svc.Create(ctx, delivery.CreateParams{
		Template:    tmpl,
		TenantID:    payload.TenantID,
		FromAddress: payload.FromAddress,
		ToAddress:   row.Recipient,
		FormData:    mapColumns(row.Columns, payload.ColumnMapping),
	})
	if err != nil {
		return domain.RowResult{}, "", err
	}
	deliveryID := d.ID
	*compensations = append(*compensations, compensation{
		describe: "delete delivery " + deliveryID.String(),
		undo: func(ctx context.Context) error {
			return o.deliveries.Delete(ctx, deliveryID)
		},
	})

	obj, finalPath, err := o.svc.Generate(ctx, templatePath, tmpl, d)
	if err != nil {
		return domain.RowResult{}, "", err
	}
	documentKey := obj.Key
	*compensations = append(*compensations, compensation{
		describe: "delete document " + documentKey,
		undo: func(ctx context.Context) error {
			return o.artifacts.Delete(ctx, documentKey)
		},
	})

	subject, body := o.svc.Compose(emailTmpl, d)
	if err := o.svc.SendNow(ctx, d, subject, body, finalPath); err != nil {
		return domain.RowResult{}, finalPath, err
	}

	result := domain.RowResult{
		DeliveryID:  d.ID,
		ArtifactURL: obj.URL,
		Recipient:   row.Recipient,
	}
	if d.SigningToken != nil {
		result.Token = *d.SigningToken
	}
	return result, finalPath, nil
}

// rollback applies compensations in reverse order. Failures are logged and
// skipped so one stuck compensation cannot strand the rest.
func (o *Orchestrator) rollback(ctx context.Context, compensations []compensation) {
	for i := len(compensations) - 1; i >= 0; i-- {
		c := compensations[i]
		if err := c.undo(ctx); err != nil {
			o.logger.Error("compensation failed",
				slog.String("step", c.describe),
				slog.String("error", err.Error()),
			)
			continue
		}
		o.logger.Debug("compensation applied", slog.String("step", c.describe))
	}
}

// mapColumns translates spreadsheet columns into template field values. An
// empty mapping passes the columns through under their own headers.
func mapColumns(columns map[string]string, mapping map[string]string) map[string]string {
	if len(mapping) == 0 {
		out := make(map[string]string, len(columns))
		for k, v := range columns {
			out[k] = v
		}
		return out
	}

	out := make(map[string]string, len(mapping))
	for column, field := range mapping {
		if v, ok := columns[column]; ok {
			out[field] = v
		}
	}
	return out
}
