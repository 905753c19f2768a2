package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inkpress/docflow-be/internal/api/dto"
	"github.com/inkpress/docflow-be/internal/delivery"
	"github.com/inkpress/docflow-be/internal/domain"
)

// CreateDelivery handles POST /api/v1/deliveries.
// Creates one delivery, generates its document and either mails it
// immediately or stamps it for the scheduled sweep.
func (h *Handler) CreateDelivery(c *gin.Context) {
	var req dto.CreateDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	templateID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template_id must be a valid UUID"})
		return
	}

	var tenantID *uuid.UUID
	if req.TenantID != "" {
		id, err := uuid.Parse(req.TenantID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id must be a valid UUID"})
			return
		}
		tenantID = &id
	}

	var scheduledAt *time.Time
	if req.ScheduledAt != "" {
		at, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_at must be RFC3339"})
			return
		}
		if at.Before(time.Now()) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_at must be in the future"})
			return
		}
		scheduledAt = &at
	}

	ctx := c.Request.Context()
	tmpl, err := h.templates.GetTemplate(ctx, templateID)
	if err != nil {
		if delivery.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
			return
		}
		h.logger.Error("Failed to get template", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get template"})
		return
	}

	attachments := make([]domain.Attachment, len(req.Attachments))
	for i, a := range req.Attachments {
		attachments[i] = domain.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Data:        a.Data,
		}
	}

	d, err := h.deliveries.Create(ctx, delivery.CreateParams{
		Template:    tmpl,
		TenantID:    tenantID,
		FromAddress: req.FromAddress,
		ToAddress:   req.ToAddress,
		FormData:    req.FormData,
		Attachments: attachments,
	})
	if err != nil {
		h.logger.Error("Failed to create delivery", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create delivery"})
		return
	}

	templatePath, err := h.artifacts.DownloadToTemp(ctx, tmpl.ArtifactKey)
	if err != nil {
		h.logger.Error("Failed to fetch template file", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Document store unavailable"})
		return
	}
	defer os.Remove(templatePath)

	_, finalPath, err := h.deliveries.Generate(ctx, templatePath, tmpl, d)
	if err != nil {
		h.respondGenerateError(c, err)
		return
	}
	defer os.Remove(finalPath)

	emailTmpl, err := h.templates.GetEmailTemplate(ctx, tmpl.EmailTemplateID)
	if err != nil {
		h.logger.Error("Failed to get email template", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get email template"})
		return
	}
	subject, body := h.deliveries.Compose(emailTmpl, d)

	if scheduledAt != nil {
		if err := h.deliveries.Schedule(ctx, d, subject, body, *scheduledAt); err != nil {
			h.logger.Error("Failed to schedule delivery", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule delivery"})
			return
		}
	} else if err := h.deliveries.SendNow(ctx, d, subject, body, finalPath); err != nil {
		h.logger.Error("Failed to send delivery", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Mail transport failed"})
		return
	}

	c.JSON(http.StatusCreated, toDeliveryDTO(d))
}

// respondGenerateError maps pipeline failures onto the right status code.
func (h *Handler) respondGenerateError(c *gin.Context, err error) {
	h.logger.Error("Failed to generate document", slog.String("error", err.Error()))
	switch {
	case errors.Is(err, domain.ErrTemplateMalformed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Template is malformed"})
	case errors.Is(err, domain.ErrConversionFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Document conversion failed"})
	case errors.Is(err, domain.ErrStoreUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Document store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate document"})
	}
}

func toDeliveryDTO(d *domain.Delivery) dto.DeliveryDTO {
	out := dto.DeliveryDTO{
		DeliveryID:  d.ID.String(),
		TemplateID:  d.TemplateID.String(),
		FromAddress: d.FromAddress,
		ToAddress:   d.ToAddress,
		Status:      string(d.Status),
		DocumentURL: d.DocumentURL,
		CreatedAt:   d.CreatedAt.Format(time.RFC3339),
	}
	if d.SigningToken != nil {
		out.SigningToken = *d.SigningToken
	}
	if d.ScheduledAt != nil {
		out.ScheduledAt = d.ScheduledAt.Format(time.RFC3339)
	}
	return out
}
