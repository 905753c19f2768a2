package domain

import (
	"time"

	"github.com/google/uuid"
)

// FieldKind classifies a template field's input type.
type FieldKind string

const (
	FieldKindText      FieldKind = "text"
	FieldKindFile      FieldKind = "file"
	FieldKindSignature FieldKind = "signature"
)

// Field describes one fillable slot in a document template.
type Field struct {
	Name        string    `json:"name"`
	Placeholder string    `json:"placeholder"`
	Kind        FieldKind `json:"kind"`
}

// IsBinary reports whether the field's value comes from an uploaded attachment.
func (f Field) IsBinary() bool {
	return f.Kind == FieldKindFile || f.Kind == FieldKindSignature
}

// Template is a named document definition. TenantID is nil for global templates.
// Templates in use by deliveries are soft-deleted, never removed.
type Template struct {
	ID              uuid.UUID  `db:"template_id"`
	TenantID        *uuid.UUID `db:"tenant_id"`
	Name            string     `db:"name"`
	ArtifactKey     string     `db:"artifact_key"`
	EmailTemplateID uuid.UUID  `db:"email_template_id"`
	Fields          []Field
	DeletedAt       *time.Time `db:"deleted_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// RequiresSignature reports whether any field is a signature slot.
func (t *Template) RequiresSignature() bool {
	for _, f := range t.Fields {
		if f.Kind == FieldKindSignature {
			return true
		}
	}
	return false
}

// EmailTemplate holds the subject and body used when mailing a generated
// document. Both may carry substitution markers filled from the form data.
type EmailTemplate struct {
	ID        uuid.UUID  `db:"email_template_id"`
	TenantID  *uuid.UUID `db:"tenant_id"`
	Subject   string     `db:"subject"`
	Body      string     `db:"body"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}
