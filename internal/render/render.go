package render

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/inkpress/docflow-be/internal/domain"
)

// Renderer binds named field values into a document template, producing an
// intermediate document on local disk.
type Renderer struct {
	logger *slog.Logger
}

// New creates a Renderer.
func New(logger *slog.Logger) *Renderer {
	return &Renderer{logger: logger}
}

// Render parses the template file at templatePath, binds the delivery's field
// values into it and writes the intermediate document to a transient file,
// returning its path. The caller is responsible for eventual cleanup.
//
// Text fields are copied verbatim; absent values bind empty rather than
// failing. File and signature fields are resolved from the attachments by
// field name and base64-encoded; a missing attachment is logged and the field
// left unbound. Structural template errors surface as ErrTemplateMalformed.
func (r *Renderer) Render(
	templatePath string,
	fields []domain.Field,
	values map[string]string,
	attachments []domain.Attachment,
	deliveryID uuid.UUID,
) (string, error) {
	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}

	tmpl, err := template.New("document").Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTemplateMalformed, err)
	}

	data := make(map[string]string, len(fields))
	for _, f := range fields {
		if f.IsBinary() {
			att := findAttachment(attachments, f.Name)
			if att == nil {
				r.logger.Warn("no attachment for binary field, leaving unbound",
					slog.String("field", f.Name),
					slog.String("kind", string(f.Kind)),
					slog.String("delivery_id", deliveryID.String()),
				)
				data[f.Name] = ""
				continue
			}
			data[f.Name] = base64.StdEncoding.EncodeToString(att.Data)
			continue
		}
		data[f.Name] = values[f.Name]
	}

	out, err := os.CreateTemp("", fmt.Sprintf("delivery-%s-*.html", deliveryID))
	if err != nil {
		return "", fmt.Errorf("create intermediate file: %w", err)
	}

	if err := tmpl.Execute(out, data); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("%w: %v", domain.ErrTemplateMalformed, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("close intermediate file: %w", err)
	}

	r.logger.Debug("intermediate document rendered",
		slog.String("delivery_id", deliveryID.String()),
		slog.String("path", out.Name()),
	)
	return out.Name(), nil
}

// findAttachment matches an attachment to a field name, either by exact
// filename or by the filename stem (upload named "photo.png" binds field "photo").
func findAttachment(attachments []domain.Attachment, fieldName string) *domain.Attachment {
	for i := range attachments {
		name := attachments[i].Filename
		if name == fieldName {
			return &attachments[i]
		}
		if strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)) == fieldName {
			return &attachments[i]
		}
	}
	return nil
}
