package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inkpress/docflow-be/internal/artifact"
	"github.com/inkpress/docflow-be/internal/delivery"
	"github.com/inkpress/docflow-be/internal/domain"
)

// DeliveryService is the delivery lifecycle surface the handlers drive.
type DeliveryService interface {
	Create(ctx context.Context, p delivery.CreateParams) (*domain.Delivery, error)
	Generate(ctx context.Context, templatePath string, tmpl *domain.Template, d *domain.Delivery) (artifact.Object, string, error)
	Compose(emailTmpl *domain.EmailTemplate, d *domain.Delivery) (subject, body string)
	SendNow(ctx context.Context, d *domain.Delivery, subject, body, attachmentPath string) error
	Schedule(ctx context.Context, d *domain.Delivery, subject, body string, at time.Time) error
	ValidateToken(ctx context.Context, token string) (*domain.Delivery, error)
	AcceptSignature(ctx context.Context, token string, signature domain.Attachment) (*domain.Delivery, error)
}

// TemplateStore resolves and retires templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error)
	GetEmailTemplate(ctx context.Context, id uuid.UUID) (*domain.EmailTemplate, error)
	SoftDeleteTemplate(ctx context.Context, id uuid.UUID) error
}

// ArtifactStore fetches stored template files.
type ArtifactStore interface {
	DownloadToTemp(ctx context.Context, key string) (string, error)
}

// JobStore persists and reads batch jobs.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID uuid.UUID) (*domain.Job, error)
}

// Publisher emits the wake-up hint after a job row lands.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Logger     *slog.Logger
	Deliveries DeliveryService
	Templates  TemplateStore
	Artifacts  ArtifactStore
	Jobs       JobStore
	Publisher  Publisher
}

// Handler serves the HTTP API.
type Handler struct {
	logger     *slog.Logger
	deliveries DeliveryService
	templates  TemplateStore
	artifacts  ArtifactStore
	jobs       JobStore
	publisher  Publisher
}

// New creates a Handler.
func New(deps *Dependencies) *Handler {
	return &Handler{
		logger:     deps.Logger,
		deliveries: deps.Deliveries,
		templates:  deps.Templates,
		artifacts:  deps.Artifacts,
		jobs:       deps.Jobs,
		publisher:  deps.Publisher,
	}
}
