package delivery

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkpress/docflow-be/internal/artifact"
	"github.com/inkpress/docflow-be/internal/domain"
	"github.com/inkpress/docflow-be/internal/mail"
)

// memDeliveryStore is an in-memory Store used across the delivery tests.
type memDeliveryStore struct {
	mu             sync.Mutex
	deliveries     map[uuid.UUID]*domain.Delivery
	setDocumentErr error
}

func newMemDeliveryStore() *memDeliveryStore {
	return &memDeliveryStore{deliveries: make(map[uuid.UUID]*domain.Delivery)}
}

func (m *memDeliveryStore) Create(_ context.Context, d *domain.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *d
	m.deliveries[d.ID] = &clone
	return nil
}

func (m *memDeliveryStore) Get(_ context.Context, id uuid.UUID) (*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery %s: %w", id, domain.ErrNotFound)
	}
	clone := *d
	return &clone, nil
}

func (m *memDeliveryStore) GetByToken(_ context.Context, token string) (*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deliveries {
		if d.SigningToken != nil && *d.SigningToken == token {
			clone := *d
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("delivery token: %w", domain.ErrNotFound)
}

func (m *memDeliveryStore) MarkDispatched(_ context.Context, id uuid.UUID, subject, body string, status domain.DeliveryStatus, scheduledAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	d.Subject, d.Body, d.Status, d.ScheduledAt = subject, body, status, scheduledAt
	return nil
}

func (m *memDeliveryStore) SetDocument(_ context.Context, id uuid.UUID, url, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setDocumentErr != nil {
		return m.setDocumentErr
	}
	d := m.deliveries[id]
	d.DocumentURL, d.DocumentKey = url, key
	return nil
}

func (m *memDeliveryStore) MarkSigned(_ context.Context, id uuid.UUID, url, key string, signature domain.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	d.Status = domain.DeliveryStatusSigned
	d.DocumentURL, d.DocumentKey = url, key
	d.Signature = &signature
	return nil
}

func (m *memDeliveryStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[id].Status = domain.DeliveryStatusFailed
	return nil
}

func (m *memDeliveryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deliveries, id)
	return nil
}

func (m *memDeliveryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deliveries)
}

// memTemplateStore serves templates and email templates from maps.
type memTemplateStore struct {
	templates map[uuid.UUID]*domain.Template
	emails    map[uuid.UUID]*domain.EmailTemplate
}

func (m *memTemplateStore) GetTemplate(_ context.Context, id uuid.UUID) (*domain.Template, error) {
	t, ok := m.templates[id]
	if !ok || t.DeletedAt != nil {
		return nil, fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (m *memTemplateStore) GetTemplateForDelivery(_ context.Context, id uuid.UUID) (*domain.Template, error) {
	t, ok := m.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (m *memTemplateStore) GetEmailTemplate(_ context.Context, id uuid.UUID) (*domain.EmailTemplate, error) {
	t, ok := m.emails[id]
	if !ok {
		return nil, fmt.Errorf("email template %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// memArtifactStore keeps objects in a map; downloads materialize to temp files.
type memArtifactStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   int
	uploadErr error
	deleteErr error
}

func newMemArtifactStore() *memArtifactStore {
	return &memArtifactStore{objects: make(map[string][]byte)}
}

func (m *memArtifactStore) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

func (m *memArtifactStore) DownloadToTemp(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: get %s", domain.ErrStoreUnavailable, key)
	}
	f, err := os.CreateTemp("", "memstore-*")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", err
	}
	return f.Name(), f.Close()
}

func (m *memArtifactStore) Upload(_ context.Context, data []byte, name, category string) (artifact.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return artifact.Object{}, m.uploadErr
	}
	m.uploads++
	key := fmt.Sprintf("%s/%d/%s", category, m.uploads, name)
	m.objects[key] = append([]byte{}, data...)
	return artifact.Object{URL: "https://store.local/" + key, Key: key}, nil
}

func (m *memArtifactStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *memArtifactStore) countCategory(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// fakeConverter copies the intermediate document into a fake final document.
type fakeConverter struct {
	err   error
	calls int
}

func (c *fakeConverter) Convert(_ context.Context, inPath string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	data, err := os.ReadFile(inPath)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "fake-final-*.pdf")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(append([]byte("%PDF "), data...)); err != nil {
		f.Close()
		return "", err
	}
	return f.Name(), f.Close()
}

// fakeMailer records sent messages.
type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
