package dto

// AttachmentDTO is one uploaded binary field value, base64 in transit.
type AttachmentDTO struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data" binding:"required"`
}

// CreateDeliveryRequest creates one delivery from a template.
type CreateDeliveryRequest struct {
	TemplateID  string            `json:"template_id" binding:"required"`
	TenantID    string            `json:"tenant_id"`
	FromAddress string            `json:"from_address" binding:"required"`
	ToAddress   string            `json:"to_address" binding:"required"`
	FormData    map[string]string `json:"form_data"`
	Attachments []AttachmentDTO   `json:"attachments"`
	ScheduledAt string            `json:"scheduled_at"` // RFC3339; empty means send immediately
}

// DeliveryDTO is the delivery representation returned by the API.
type DeliveryDTO struct {
	DeliveryID   string `json:"delivery_id"`
	TemplateID   string `json:"template_id"`
	FromAddress  string `json:"from_address"`
	ToAddress    string `json:"to_address"`
	Status       string `json:"status"`
	DocumentURL  string `json:"document_url,omitempty"`
	SigningToken string `json:"signing_token,omitempty"`
	ScheduledAt  string `json:"scheduled_at,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// SignPageDTO is what the signing UI needs to render for a valid token.
type SignPageDTO struct {
	DeliveryID  string `json:"delivery_id"`
	ToAddress   string `json:"to_address"`
	DocumentURL string `json:"document_url,omitempty"`
	Status      string `json:"status"`
}
