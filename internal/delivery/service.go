package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inkpress/docflow-be/internal/artifact"
	"github.com/inkpress/docflow-be/internal/domain"
	"github.com/inkpress/docflow-be/internal/mail"
)

// Store is the delivery persistence surface the state machine needs.
type Store interface {
	Create(ctx context.Context, d *domain.Delivery) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Delivery, error)
	GetByToken(ctx context.Context, token string) (*domain.Delivery, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, subject, body string, status domain.DeliveryStatus, scheduledAt *time.Time) error
	SetDocument(ctx context.Context, id uuid.UUID, url, key string) error
	MarkSigned(ctx context.Context, id uuid.UUID, url, key string, signature domain.Attachment) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// TemplateStore resolves templates and email templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error)
	GetTemplateForDelivery(ctx context.Context, id uuid.UUID) (*domain.Template, error)
	GetEmailTemplate(ctx context.Context, id uuid.UUID) (*domain.EmailTemplate, error)
}

// ArtifactStore is the binary object storage surface.
type ArtifactStore interface {
	DownloadToTemp(ctx context.Context, key string) (string, error)
	Upload(ctx context.Context, data []byte, name, category string) (artifact.Object, error)
	Delete(ctx context.Context, key string) error
}

// Renderer binds field values into a template file.
type Renderer interface {
	Render(templatePath string, fields []domain.Field, values map[string]string, attachments []domain.Attachment, deliveryID uuid.UUID) (string, error)
}

// Converter produces the final distributable document.
type Converter interface {
	Convert(ctx context.Context, inPath string) (string, error)
}

// Mailer sends one composed message.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// Service owns the delivery lifecycle: creation, token issuance, transport,
// signing, completion.
type Service struct {
	deliveries Store
	templates  TemplateStore
	artifacts  ArtifactStore
	renderer   Renderer
	converter  Converter
	mailer     Mailer
	signingURL string
	logger     *slog.Logger
}

// NewService creates the delivery state machine service.
func NewService(
	deliveries Store,
	templates TemplateStore,
	artifacts ArtifactStore,
	renderer Renderer,
	converter Converter,
	mailer Mailer,
	signingURL string,
	logger *slog.Logger,
) *Service {
	return &Service{
		deliveries: deliveries,
		templates:  templates,
		artifacts:  artifacts,
		renderer:   renderer,
		converter:  converter,
		mailer:     mailer,
		signingURL: signingURL,
		logger:     logger,
	}
}

// CreateParams describes one delivery to create.
type CreateParams struct {
	Template    *domain.Template
	TenantID    *uuid.UUID
	FromAddress string
	ToAddress   string
	FormData    map[string]string
	Attachments []domain.Attachment
}

// Create inserts a pending delivery. Templates with a signature field get a
// freshly generated single-use signing token.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Delivery, error) {
	d := &domain.Delivery{
		ID:              uuid.New(),
		TenantID:        p.TenantID,
		TemplateID:      p.Template.ID,
		EmailTemplateID: p.Template.EmailTemplateID,
		FromAddress:     p.FromAddress,
		ToAddress:       p.ToAddress,
		FormData:        p.FormData,
		Attachments:     p.Attachments,
		Status:          domain.DeliveryStatusPending,
	}
	if p.Template.RequiresSignature() {
		token := uuid.New().String()
		d.SigningToken = &token
	}

	if err := s.deliveries.Create(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info("delivery created",
		slog.String("delivery_id", d.ID.String()),
		slog.String("to", d.ToAddress),
		slog.Bool("requires_signature", d.RequiresSignature()),
	)
	return d, nil
}

// Generate runs the render -> convert -> upload cycle for one delivery and
// records the document location. The intermediate document is removed here;
// the returned final document path stays on disk for mailing and the caller
// owns its cleanup.
func (s *Service) Generate(ctx context.Context, templatePath string, tmpl *domain.Template, d *domain.Delivery) (artifact.Object, string, error) {
	attachments := d.Attachments
	if d.Signature != nil {
		attachments = append(append([]domain.Attachment{}, attachments...), *d.Signature)
	}

	intermediatePath, err := s.renderer.Render(templatePath, tmpl.Fields, d.FormData, attachments, d.ID)
	if err != nil {
		return artifact.Object{}, "", err
	}
	defer os.Remove(intermediatePath)

	finalPath, err := s.converter.Convert(ctx, intermediatePath)
	if err != nil {
		return artifact.Object{}, "", err
	}

	data, err := os.ReadFile(finalPath)
	if err != nil {
		os.Remove(finalPath)
		return artifact.Object{}, "", fmt.Errorf("read final document: %w", err)
	}

	obj, err := s.artifacts.Upload(ctx, data, fmt.Sprintf("%s.pdf", d.ID), artifact.CategoryDocuments)
	if err != nil {
		os.Remove(finalPath)
		return artifact.Object{}, "", err
	}

	if err := s.deliveries.SetDocument(ctx, d.ID, obj.URL, obj.Key); err != nil {
		os.Remove(finalPath)
		// Callers never see obj on this path, so the upload has to be
		// reclaimed here.
		if delErr := s.artifacts.Delete(ctx, obj.Key); delErr != nil {
			s.logger.Error("failed to delete unrecorded document",
				slog.String("delivery_id", d.ID.String()),
				slog.String("key", obj.Key),
				slog.String("error", delErr.Error()),
			)
		}
		return artifact.Object{}, "", err
	}
	d.DocumentURL = obj.URL
	d.DocumentKey = obj.Key

	return obj, finalPath, nil
}

// Compose fills the email template's substitution markers from the form data
// and appends the signing link when the delivery requires a signature.
func (s *Service) Compose(emailTmpl *domain.EmailTemplate, d *domain.Delivery) (subject, body string) {
	pairs := make([]string, 0, len(d.FormData)*2)
	for k, v := range d.FormData {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	replacer := strings.NewReplacer(pairs...)

	subject = replacer.Replace(emailTmpl.Subject)
	body = replacer.Replace(emailTmpl.Body)

	if d.RequiresSignature() {
		body += fmt.Sprintf(
			`<p><a href="%s/%s">Review and sign the document</a></p>`,
			strings.TrimRight(s.signingURL, "/"), *d.SigningToken,
		)
	}
	return subject, body
}

// SendNow stamps the composed message, dispatches mail immediately and
// advances the status: sent, or still pending while a signature is
// outstanding (the document isn't final until signed). An unrecoverable
// transport error flips the delivery to failed.
func (s *Service) SendNow(ctx context.Context, d *domain.Delivery, subject, body, attachmentPath string) error {
	err := s.mailer.Send(ctx, mail.Message{
		From:           d.FromAddress,
		To:             d.ToAddress,
		Subject:        subject,
		HTML:           body,
		AttachmentPath: attachmentPath,
	})
	if err != nil {
		if markErr := s.deliveries.MarkFailed(ctx, d.ID); markErr != nil {
			s.logger.Error("failed to mark delivery failed",
				slog.String("delivery_id", d.ID.String()),
				slog.String("error", markErr.Error()),
			)
		}
		d.Status = domain.DeliveryStatusFailed
		return err
	}

	status := domain.DeliveryStatusSent
	if d.RequiresSignature() {
		status = domain.DeliveryStatusPending
	}
	if err := s.deliveries.MarkDispatched(ctx, d.ID, subject, body, status, nil); err != nil {
		return err
	}
	d.Subject, d.Body, d.Status = subject, body, status
	return nil
}

// Schedule stamps the composed message and a future timestamp without
// dispatching mail; the scheduler sweep promotes it when due.
func (s *Service) Schedule(ctx context.Context, d *domain.Delivery, subject, body string, at time.Time) error {
	if err := s.deliveries.MarkDispatched(ctx, d.ID, subject, body, domain.DeliveryStatusScheduled, &at); err != nil {
		return err
	}
	d.Subject, d.Body, d.Status, d.ScheduledAt = subject, body, domain.DeliveryStatusScheduled, &at

	s.logger.Info("delivery scheduled",
		slog.String("delivery_id", d.ID.String()),
		slog.Time("scheduled_at", at),
	)
	return nil
}

// ValidateToken is the read-only check gating the signing UI: it succeeds
// only while the delivery exists and has not been signed yet.
func (s *Service) ValidateToken(ctx context.Context, token string) (*domain.Delivery, error) {
	d, err := s.deliveries.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if d.Status == domain.DeliveryStatusSigned {
		return nil, domain.ErrTokenAlreadyUsed
	}
	return d, nil
}

// AcceptSignature attaches the signature artifact, re-runs the generation
// pipeline to produce the final signed document, updates the document link
// and flips the delivery to signed. This is the only transition that
// re-enters the pipeline after initial creation, and it consumes the token:
// further validation of it fails.
func (s *Service) AcceptSignature(ctx context.Context, token string, signature domain.Attachment) (*domain.Delivery, error) {
	d, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}

	tmpl, err := s.templates.GetTemplateForDelivery(ctx, d.TemplateID)
	if err != nil {
		return nil, err
	}

	// Name the signature upload after the signature field so the renderer
	// binds it like any other attachment.
	for _, f := range tmpl.Fields {
		if f.Kind == domain.FieldKindSignature {
			signature.Filename = f.Name
			break
		}
	}
	d.Signature = &signature

	templatePath, err := s.artifacts.DownloadToTemp(ctx, tmpl.ArtifactKey)
	if err != nil {
		return nil, err
	}
	defer os.Remove(templatePath)

	obj, finalPath, err := s.Generate(ctx, templatePath, tmpl, d)
	if err != nil {
		return nil, err
	}
	defer os.Remove(finalPath)

	if err := s.deliveries.MarkSigned(ctx, d.ID, obj.URL, obj.Key, signature); err != nil {
		return nil, err
	}
	d.Status = domain.DeliveryStatusSigned
	d.DocumentURL = obj.URL
	d.DocumentKey = obj.Key

	s.logger.Info("signature accepted",
		slog.String("delivery_id", d.ID.String()),
		slog.String("document_key", obj.Key),
	)
	return d, nil
}

// IsNotFound reports whether err is the not-found taxonomy error.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
