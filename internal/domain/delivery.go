package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the lifecycle state of one generated document's journey.
// It only moves forward: pending/scheduled -> sent -> signed, with failed
// terminal from any non-terminal state.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusScheduled DeliveryStatus = "scheduled"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusSigned    DeliveryStatus = "signed"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Attachment is one uploaded binary value for a file or signature field.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Delivery tracks one generated document from creation through sending
// to optional signing. Exactly one Delivery exists per generated document.
type Delivery struct {
	ID              uuid.UUID      `db:"delivery_id"`
	TenantID        *uuid.UUID     `db:"tenant_id"`
	TemplateID      uuid.UUID      `db:"template_id"`
	EmailTemplateID uuid.UUID      `db:"email_template_id"`
	FromAddress     string         `db:"from_address"`
	ToAddress       string         `db:"to_address"`
	Subject         string         `db:"subject"`
	Body            string         `db:"body"`
	FormData        map[string]string
	Attachments     []Attachment
	Signature       *Attachment
	SigningToken    *string        `db:"signing_token"`
	ScheduledAt     *time.Time     `db:"scheduled_at"`
	DocumentURL     string         `db:"document_url"`
	DocumentKey     string         `db:"document_key"`
	Status          DeliveryStatus `db:"status"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// RequiresSignature reports whether the delivery was created from a template
// with a signature field. Such deliveries carry a single-use token.
func (d *Delivery) RequiresSignature() bool {
	return d.SigningToken != nil && *d.SigningToken != ""
}
