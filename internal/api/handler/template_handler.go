package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inkpress/docflow-be/internal/delivery"
)

// DeleteTemplate handles DELETE /api/v1/templates/:template_id.
// Templates are soft-deleted: new deliveries can no longer use them, but
// existing deliveries keep working, signing included.
func (h *Handler) DeleteTemplate(c *gin.Context) {
	templateID, err := uuid.Parse(c.Param("template_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template_id must be a valid UUID"})
		return
	}

	if err := h.templates.SoftDeleteTemplate(c.Request.Context(), templateID); err != nil {
		if delivery.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
			return
		}
		h.logger.Error("Failed to delete template", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete template"})
		return
	}

	c.Status(http.StatusNoContent)
}
