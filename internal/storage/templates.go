package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/inkpress/docflow-be/internal/domain"
)

// TemplateStore handles template and email-template lookups.
type TemplateStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewTemplateStore creates a TemplateStore.
func NewTemplateStore(db *sqlx.DB, logger *slog.Logger) *TemplateStore {
	return &TemplateStore{db: db, logger: logger}
}

// GetTemplate retrieves a template by id. Soft-deleted templates are not
// found for new generation, though deliveries referencing them stay readable.
func (s *TemplateStore) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	query := `
		SELECT template_id, tenant_id, name, artifact_key, email_template_id, fields, created_at, updated_at
		FROM templates
		WHERE template_id = $1 AND deleted_at IS NULL
	`

	var t domain.Template
	var fields []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID,
		&t.TenantID,
		&t.Name,
		&t.ArtifactKey,
		&t.EmailTemplateID,
		&fields,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if err := json.Unmarshal(fields, &t.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode template fields: %w", err)
	}
	return &t, nil
}

// GetTemplateForDelivery retrieves a template regardless of soft-deletion.
// Deliveries that already reference a removed template must still be able to
// re-generate their document when signed.
func (s *TemplateStore) GetTemplateForDelivery(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	query := `
		SELECT template_id, tenant_id, name, artifact_key, email_template_id, fields, created_at, updated_at
		FROM templates
		WHERE template_id = $1
	`

	var t domain.Template
	var fields []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID,
		&t.TenantID,
		&t.Name,
		&t.ArtifactKey,
		&t.EmailTemplateID,
		&fields,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if err := json.Unmarshal(fields, &t.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode template fields: %w", err)
	}
	return &t, nil
}

// GetEmailTemplate retrieves an email template by id.
func (s *TemplateStore) GetEmailTemplate(ctx context.Context, id uuid.UUID) (*domain.EmailTemplate, error) {
	query := `
		SELECT email_template_id, tenant_id, subject, body, created_at, updated_at
		FROM email_templates
		WHERE email_template_id = $1
	`

	var t domain.EmailTemplate
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID,
		&t.TenantID,
		&t.Subject,
		&t.Body,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("email template %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get email template: %w", err)
	}
	return &t, nil
}

// SoftDeleteTemplate logically removes a template; it stays on disk for audit
// and for deliveries that already reference it.
func (s *TemplateStore) SoftDeleteTemplate(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE templates
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE template_id = $1 AND deleted_at IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}

	s.logger.Info("template soft-deleted", slog.String("template_id", id.String()))
	return nil
}
