package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/inkpress/docflow-be/internal/domain"
)

// DeliveryStore handles delivery persistence through the whole lifecycle.
type DeliveryStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewDeliveryStore creates a DeliveryStore.
func NewDeliveryStore(db *sqlx.DB, logger *slog.Logger) *DeliveryStore {
	return &DeliveryStore{db: db, logger: logger}
}

const deliveryColumns = `
	delivery_id, tenant_id, template_id, email_template_id,
	from_address, to_address, subject, body,
	form_data, attachments, signature, signing_token,
	scheduled_at, document_url, document_key, status,
	created_at, updated_at
`

// Create inserts a new delivery in pending status.
func (s *DeliveryStore) Create(ctx context.Context, d *domain.Delivery) error {
	formData, err := json.Marshal(d.FormData)
	if err != nil {
		return fmt.Errorf("failed to encode form data: %w", err)
	}
	attachments, err := json.Marshal(d.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}

	query := `
		INSERT INTO deliveries (
			delivery_id, tenant_id, template_id, email_template_id,
			from_address, to_address, subject, body,
			form_data, attachments, signing_token, scheduled_at,
			document_url, document_key, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW(),NOW())
	`
	_, err = s.db.ExecContext(ctx, query,
		d.ID, d.TenantID, d.TemplateID, d.EmailTemplateID,
		d.FromAddress, d.ToAddress, d.Subject, d.Body,
		formData, attachments, d.SigningToken, d.ScheduledAt,
		d.DocumentURL, d.DocumentKey, d.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

// Get retrieves a delivery by id.
func (s *DeliveryStore) Get(ctx context.Context, id uuid.UUID) (*domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE delivery_id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id), id.String())
}

// GetByToken retrieves a delivery by its signing token.
func (s *DeliveryStore) GetByToken(ctx context.Context, token string) (*domain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE signing_token = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, token), "token")
}

func (s *DeliveryStore) scanOne(row *sql.Row, ref string) (*domain.Delivery, error) {
	var d domain.Delivery
	var formData, attachments []byte
	var signature []byte

	err := row.Scan(
		&d.ID, &d.TenantID, &d.TemplateID, &d.EmailTemplateID,
		&d.FromAddress, &d.ToAddress, &d.Subject, &d.Body,
		&formData, &attachments, &signature, &d.SigningToken,
		&d.ScheduledAt, &d.DocumentURL, &d.DocumentKey, &d.Status,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("delivery %s: %w", ref, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}

	if err := json.Unmarshal(formData, &d.FormData); err != nil {
		return nil, fmt.Errorf("failed to decode form data: %w", err)
	}
	if err := json.Unmarshal(attachments, &d.Attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	if len(signature) > 0 {
		var sig domain.Attachment
		if err := json.Unmarshal(signature, &sig); err != nil {
			return nil, fmt.Errorf("failed to decode signature: %w", err)
		}
		d.Signature = &sig
	}
	return &d, nil
}

// MarkDispatched stamps the composed subject/body and the resulting status
// (sent, pending while a signature is outstanding, or scheduled).
func (s *DeliveryStore) MarkDispatched(ctx context.Context, id uuid.UUID, subject, body string, status domain.DeliveryStatus, scheduledAt *time.Time) error {
	query := `
		UPDATE deliveries
		SET subject = $1, body = $2, status = $3, scheduled_at = $4, updated_at = NOW()
		WHERE delivery_id = $5
	`
	if _, err := s.db.ExecContext(ctx, query, subject, body, status, scheduledAt, id); err != nil {
		return fmt.Errorf("failed to update delivery dispatch: %w", err)
	}
	return nil
}

// SetDocument records the generated document's remote location.
func (s *DeliveryStore) SetDocument(ctx context.Context, id uuid.UUID, url, key string) error {
	query := `
		UPDATE deliveries
		SET document_url = $1, document_key = $2, updated_at = NOW()
		WHERE delivery_id = $3
	`
	if _, err := s.db.ExecContext(ctx, query, url, key, id); err != nil {
		return fmt.Errorf("failed to update delivery document: %w", err)
	}
	return nil
}

// MarkSigned attaches the signature, updates the document link and flips the
// delivery to its terminal signed status.
func (s *DeliveryStore) MarkSigned(ctx context.Context, id uuid.UUID, url, key string, signature domain.Attachment) error {
	sig, err := json.Marshal(signature)
	if err != nil {
		return fmt.Errorf("failed to encode signature: %w", err)
	}

	query := `
		UPDATE deliveries
		SET status = $1, document_url = $2, document_key = $3, signature = $4, updated_at = NOW()
		WHERE delivery_id = $5
	`
	if _, err := s.db.ExecContext(ctx, query, domain.DeliveryStatusSigned, url, key, sig, id); err != nil {
		return fmt.Errorf("failed to mark delivery signed: %w", err)
	}

	s.logger.Info("delivery signed", slog.String("delivery_id", id.String()))
	return nil
}

// MarkFailed flips a delivery to its terminal failed status.
func (s *DeliveryStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE deliveries
		SET status = $1, updated_at = NOW()
		WHERE delivery_id = $2
	`
	if _, err := s.db.ExecContext(ctx, query, domain.DeliveryStatusFailed, id); err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}
	return nil
}

// ListDue returns all scheduled deliveries whose due time has passed.
func (s *DeliveryStore) ListDue(ctx context.Context, now time.Time) ([]domain.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at
	`

	rows, err := s.db.QueryContext(ctx, query, domain.DeliveryStatusScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due deliveries: %w", err)
	}
	defer rows.Close()

	var due []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		var formData, attachments, signature []byte
		if err := rows.Scan(
			&d.ID, &d.TenantID, &d.TemplateID, &d.EmailTemplateID,
			&d.FromAddress, &d.ToAddress, &d.Subject, &d.Body,
			&formData, &attachments, &signature, &d.SigningToken,
			&d.ScheduledAt, &d.DocumentURL, &d.DocumentKey, &d.Status,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan due delivery: %w", err)
		}
		if err := json.Unmarshal(formData, &d.FormData); err != nil {
			return nil, fmt.Errorf("failed to decode form data: %w", err)
		}
		if err := json.Unmarshal(attachments, &d.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

// Promote flips one delivery from scheduled to sent. The status check inside
// the UPDATE makes promotion idempotent under overlapping sweep runs; the
// boolean reports whether this call won.
func (s *DeliveryStore) Promote(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE deliveries
		SET status = $1, updated_at = NOW()
		WHERE delivery_id = $2 AND status = $3
	`
	res, err := s.db.ExecContext(ctx, query, domain.DeliveryStatusSent, id, domain.DeliveryStatusScheduled)
	if err != nil {
		return false, fmt.Errorf("failed to promote delivery: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// Delete removes a delivery record. Used by batch rollback only.
func (s *DeliveryStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE delivery_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete delivery: %w", err)
	}
	return nil
}
