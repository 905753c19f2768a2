package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inkpress/docflow-be/internal/api/dto"
	"github.com/inkpress/docflow-be/internal/delivery"
	"github.com/inkpress/docflow-be/internal/domain"
)

// maxSignatureBytes caps one uploaded signature image.
const maxSignatureBytes = 2 << 20

// GetSignPage handles GET /api/v1/sign/:token.
// Validates the token so the signing UI knows whether to render the form.
func (h *Handler) GetSignPage(c *gin.Context) {
	token := c.Param("token")

	d, err := h.deliveries.ValidateToken(c.Request.Context(), token)
	if err != nil {
		h.respondTokenError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SignPageDTO{
		DeliveryID:  d.ID.String(),
		ToAddress:   d.ToAddress,
		DocumentURL: d.DocumentURL,
		Status:      string(d.Status),
	})
}

// SubmitSignature handles POST /api/v1/sign/:token.
// Accepts the signature image, regenerates the signed document and consumes
// the token.
func (h *Handler) SubmitSignature(c *gin.Context) {
	token := c.Param("token")

	file, header, err := c.Request.FormFile("signature")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature file is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSignatureBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read signature file"})
		return
	}
	if len(data) > maxSignatureBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "signature file too large"})
		return
	}

	d, err := h.deliveries.AcceptSignature(c.Request.Context(), token, domain.Attachment{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		h.respondTokenError(c, err)
		return
	}

	h.logger.Info("signature submitted",
		slog.String("delivery_id", d.ID.String()),
	)
	c.JSON(http.StatusOK, toDeliveryDTO(d))
}

// respondTokenError maps signing failures onto the right status code. An
// unknown and an already-used token are kept distinguishable so the UI can
// tell the signer what happened.
func (h *Handler) respondTokenError(c *gin.Context, err error) {
	switch {
	case delivery.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown signing token"})
	case errors.Is(err, domain.ErrTokenAlreadyUsed):
		c.JSON(http.StatusGone, gin.H{"error": "Document has already been signed"})
	case errors.Is(err, domain.ErrTemplateMalformed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Template is malformed"})
	case errors.Is(err, domain.ErrConversionFailed), errors.Is(err, domain.ErrStoreUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to produce signed document"})
	default:
		h.logger.Error("Failed to process signature", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process signature"})
	}
}
