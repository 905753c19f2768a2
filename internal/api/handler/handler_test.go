package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpress/docflow-be/internal/api/dto"
	"github.com/inkpress/docflow-be/internal/artifact"
	"github.com/inkpress/docflow-be/internal/delivery"
	"github.com/inkpress/docflow-be/internal/domain"
	"github.com/inkpress/docflow-be/shared/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeDeliverySvc implements DeliveryService with canned behavior.
type fakeDeliverySvc struct {
	byToken   map[string]*domain.Delivery
	sendErr   error
	scheduled []time.Time
	sent      int
}

func newFakeDeliverySvc() *fakeDeliverySvc {
	return &fakeDeliverySvc{byToken: make(map[string]*domain.Delivery)}
}

func (f *fakeDeliverySvc) Create(_ context.Context, p delivery.CreateParams) (*domain.Delivery, error) {
	d := &domain.Delivery{
		ID:          uuid.New(),
		TemplateID:  p.Template.ID,
		FromAddress: p.FromAddress,
		ToAddress:   p.ToAddress,
		FormData:    p.FormData,
		Status:      domain.DeliveryStatusPending,
		CreatedAt:   time.Now(),
	}
	if p.Template.RequiresSignature() {
		token := uuid.New().String()
		d.SigningToken = &token
		f.byToken[token] = d
	}
	return d, nil
}

func (f *fakeDeliverySvc) Generate(_ context.Context, _ string, _ *domain.Template, d *domain.Delivery) (artifact.Object, string, error) {
	file, err := os.CreateTemp("", "handler-final-*.pdf")
	if err != nil {
		return artifact.Object{}, "", err
	}
	file.Close()
	key := "documents/" + d.ID.String() + ".pdf"
	d.DocumentURL = "https://store.local/" + key
	d.DocumentKey = key
	return artifact.Object{URL: d.DocumentURL, Key: key}, file.Name(), nil
}

func (f *fakeDeliverySvc) Compose(emailTmpl *domain.EmailTemplate, _ *domain.Delivery) (string, string) {
	return emailTmpl.Subject, emailTmpl.Body
}

func (f *fakeDeliverySvc) SendNow(_ context.Context, d *domain.Delivery, subject, body, _ string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent++
	d.Subject, d.Body, d.Status = subject, body, domain.DeliveryStatusSent
	return nil
}

func (f *fakeDeliverySvc) Schedule(_ context.Context, d *domain.Delivery, subject, body string, at time.Time) error {
	f.scheduled = append(f.scheduled, at)
	d.Subject, d.Body, d.Status, d.ScheduledAt = subject, body, domain.DeliveryStatusScheduled, &at
	return nil
}

func (f *fakeDeliverySvc) ValidateToken(_ context.Context, token string) (*domain.Delivery, error) {
	d, ok := f.byToken[token]
	if !ok {
		return nil, fmt.Errorf("delivery token: %w", domain.ErrNotFound)
	}
	if d.Status == domain.DeliveryStatusSigned {
		return nil, domain.ErrTokenAlreadyUsed
	}
	return d, nil
}

func (f *fakeDeliverySvc) AcceptSignature(ctx context.Context, token string, signature domain.Attachment) (*domain.Delivery, error) {
	d, err := f.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	d.Signature = &signature
	d.Status = domain.DeliveryStatusSigned
	return d, nil
}

type fakeTemplates struct {
	templates map[uuid.UUID]*domain.Template
	emails    map[uuid.UUID]*domain.EmailTemplate
	deleted   []uuid.UUID
}

func newFakeTemplates() *fakeTemplates {
	return &fakeTemplates{
		templates: make(map[uuid.UUID]*domain.Template),
		emails:    make(map[uuid.UUID]*domain.EmailTemplate),
	}
}

func (f *fakeTemplates) GetTemplate(_ context.Context, id uuid.UUID) (*domain.Template, error) {
	t, ok := f.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (f *fakeTemplates) GetEmailTemplate(_ context.Context, id uuid.UUID) (*domain.EmailTemplate, error) {
	t, ok := f.emails[id]
	if !ok {
		return nil, fmt.Errorf("email template %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (f *fakeTemplates) SoftDeleteTemplate(_ context.Context, id uuid.UUID) error {
	if _, ok := f.templates[id]; !ok {
		return fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	delete(f.templates, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeArtifacts struct{}

func (fakeArtifacts) DownloadToTemp(_ context.Context, _ string) (string, error) {
	f, err := os.CreateTemp("", "handler-template-*")
	if err != nil {
		return "", err
	}
	return f.Name(), f.Close()
}

type fakeJobs struct {
	jobs map[uuid.UUID]*domain.Job
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[uuid.UUID]*domain.Job)}
}

func (f *fakeJobs) Create(_ context.Context, job *domain.Job) error {
	job.Status = domain.JobStatusPending
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	f.jobs[job.JobID] = job
	return nil
}

func (f *fakeJobs) Get(_ context.Context, jobID uuid.UUID) (*domain.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	return job, nil
}

type fakePublisher struct {
	published [][]byte
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, body)
	return nil
}

type apiFixture struct {
	svc       *fakeDeliverySvc
	templates *fakeTemplates
	jobs      *fakeJobs
	publisher *fakePublisher
	handler   *Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		svc:       newFakeDeliverySvc(),
		templates: newFakeTemplates(),
		jobs:      newFakeJobs(),
		publisher: &fakePublisher{},
	}
	f.handler = New(&Dependencies{
		Logger:     logger.NewNop(),
		Deliveries: f.svc,
		Templates:  f.templates,
		Artifacts:  fakeArtifacts{},
		Jobs:       f.jobs,
		Publisher:  f.publisher,
	})
	return f
}

func (f *apiFixture) addTemplate(signature bool) *domain.Template {
	emailID := uuid.New()
	f.templates.emails[emailID] = &domain.EmailTemplate{ID: emailID, Subject: "Doc", Body: "<p>Doc</p>"}

	fields := []domain.Field{{Name: "name", Kind: domain.FieldKindText}}
	if signature {
		fields = append(fields, domain.Field{Name: "autograph", Kind: domain.FieldKindSignature})
	}
	tmpl := &domain.Template{
		ID:              uuid.New(),
		Name:            "contract",
		ArtifactKey:     "templates/contract.html",
		EmailTemplateID: emailID,
		Fields:          fields,
	}
	f.templates.templates[tmpl.ID] = tmpl
	return tmpl
}

func performJSON(h *Handler, register func(*gin.Engine, *Handler), method, path string, body interface{}) *httptest.ResponseRecorder {
	r := gin.New()
	register(r, h)

	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateDeliverySendsImmediately(t *testing.T) {
	f := newAPIFixture(t)
	tmpl := f.addTemplate(false)

	w := performJSON(f.handler, func(r *gin.Engine, h *Handler) {
		r.POST("/api/v1/deliveries", h.CreateDelivery)
	}, http.MethodPost, "/api/v1/deliveries", dto.CreateDeliveryRequest{
		TemplateID:  tmpl.ID.String(),
		FromAddress: "noreply@inkpress.io",
		ToAddress:   "alice@example.com",
		FormData:    map[string]string{"name": "Alice"},
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var resp dto.DeliveryDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(domain.DeliveryStatusSent), resp.Status)
	assert.NotEmpty(t, resp.DocumentURL)
	assert.Empty(t, resp.SigningToken)
	assert.Equal(t, 1, f.svc.sent)
}

func TestCreateDeliveryScheduledSkipsMail(t *testing.T) {
	f := newAPIFixture(t)
	tmpl := f.addTemplate(false)
	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	w := performJSON(f.handler, func(r *gin.Engine, h *Handler) {
		r.POST("/api/v1/deliveries", h.CreateDelivery)
	}, http.MethodPost, "/api/v1/deliveries", dto.CreateDeliveryRequest{
		TemplateID:  tmpl.ID.String(),
		FromAddress: "noreply@inkpress.io",
		ToAddress:   "alice@example.com",
		ScheduledAt: at.Format(time.RFC3339),
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var resp dto.DeliveryDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(domain.DeliveryStatusScheduled), resp.Status)
	assert.Equal(t, 0, f.svc.sent)
	require.Len(t, f.svc.scheduled, 1)
	assert.True(t, f.svc.scheduled[0].Equal(at))
}

func TestCreateDeliveryRejectsPastSchedule(t *testing.T) {
	f := newAPIFixture(t)
	tmpl := f.addTemplate(false)

	w := performJSON(f.handler, func(r *gin.Engine, h *Handler) {
		r.POST("/api/v1/deliveries", h.CreateDelivery)
	}, http.MethodPost, "/api/v1/deliveries", dto.CreateDeliveryRequest{
		TemplateID:  tmpl.ID.String(),
		FromAddress: "noreply@inkpress.io",
		ToAddress:   "alice@example.com",
		ScheduledAt: time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateDeliveryUnknownTemplate(t *testing.T) {
	f := newAPIFixture(t)

	w := performJSON(f.handler, func(r *gin.Engine, h *Handler) {
		r.POST("/api/v1/deliveries", h.CreateDelivery)
	}, http.MethodPost, "/api/v1/deliveries", dto.CreateDeliveryRequest{
		TemplateID:  uuid.New().String(),
		FromAddress: "noreply@inkpress.io",
		ToAddress:   "alice@example.com",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func batchForm(t *testing.T, fields map[string]string, csv string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if csv != "" {
		part, err := mw.CreateFormFile("tabular", "recipients.csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(csv))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCreateBatchAcceptsJobAndPublishesHint(t *testing.T) {
	f := newAPIFixture(t)
	tmpl := f.addTemplate(false)

	body, contentType := batchForm(t, map[string]string{
		"template_id":      tmpl.ID.String(),
		"recipient_column": "email",
		"from_address":     "billing@inkpress.io",
		"column_mapping":   `{"full_name":"name"}`,
	}, "email,full_name\na@example.com,Alice\n")

	r := gin.New()
	r.POST("/api/v1/batches", f.handler.CreateBatch)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", "user-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp dto.CreateBatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.JobStatusPending, resp.Status)

	jobID := uuid.MustParse(resp.JobID)
	job, err := f.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	var payload domain.BatchPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, tmpl.ID, payload.TemplateID)
	assert.Equal(t, "email", payload.RecipientColumn)
	assert.Equal(t, "user-1", payload.SubmitterID)
	assert.Equal(t, map[string]string{"full_name": "name"}, payload.ColumnMapping)
	assert.Equal(t, "user-1", job.SubmitterID)

	require.Len(t, f.publisher.published, 1)
	assert.Contains(t, string(f.publisher.published[0]), resp.JobID)
}

func TestCreateBatchValidation(t *testing.T) {
	f := newAPIFixture(t)
	tmpl := f.addTemplate(false)

	tests := []struct {
		name   string
		fields map[string]string
		user   string
		csv    string
		want   int
	}{
		{
			name: "missing tabular file",
			fields: map[string]string{
				"template_id":      tmpl.ID.String(),
				"recipient_column": "email",
				"from_address":     "billing@inkpress.io",
			},
			user: "user-1",
			want: http.StatusBadRequest,
		},
		{
			name: "missing recipient column",
			fields: map[string]string{
				"template_id":  tmpl.ID.String(),
				"from_address": "billing@inkpress.io",
			},
			user: "user-1",
			csv:  "email\na@example.com\n",
			want: http.StatusBadRequest,
		},
		{
			name: "missing submitter header",
			fields: map[string]string{
				"template_id":      tmpl.ID.String(),
				"recipient_column": "email",
				"from_address":     "billing@inkpress.io",
			},
			csv:  "email\na@example.com\n",
			want: http.StatusBadRequest,
		},
		{
			name: "unknown template",
			fields: map[string]string{
				"template_id":      uuid.New().String(),
				"recipient_column": "email",
				"from_address":     "billing@inkpress.io",
			},
			user: "user-1",
			csv:  "email\na@example.com\n",
			want: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := batchForm(t, tt.fields, tt.csv)
			r := gin.New()
			r.POST("/api/v1/batches", f.handler.CreateBatch)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", body)
			req.Header.Set("Content-Type", contentType)
			if tt.user != "" {
				req.Header.Set("X-User-ID", tt.user)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestGetJobStates(t *testing.T) {
	f := newAPIFixture(t)

	errMsg := "row 2 (b@example.com): conversion failed"
	failed := &domain.Job{
		JobID:       uuid.New(),
		JobType:     domain.JobTypeBulkBatch,
		SubmitterID: "user-1",
	}
	require.NoError(t, f.jobs.Create(context.Background(), failed))
	failed.Status = domain.JobStatusFailed
	failed.ErrorMsg = &errMsg

	register := func(r *gin.Engine, h *Handler) {
		r.GET("/api/v1/jobs/:job_id", h.GetJob)
	}

	w := performJSON(f.handler, register, http.MethodGet, "/api/v1/jobs/"+failed.JobID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.JobDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.JobStatusFailed, resp.Status)
	assert.Equal(t, errMsg, resp.Error)

	w = performJSON(f.handler, register, http.MethodGet, "/api/v1/jobs/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performJSON(f.handler, register, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	tmpl := f.addTemplate(true)

	d, err := f.svc.Create(context.Background(), delivery.CreateParams{
		Template:    tmpl,
		FromAddress: "noreply@inkpress.io",
		ToAddress:   "bob@example.com",
	})
	require.NoError(t, err)
	token := *d.SigningToken

	r := gin.New()
	r.GET("/api/v1/sign/:token", f.handler.GetSignPage)
	r.POST("/api/v1/sign/:token", f.handler.SubmitSignature)

	// Valid token renders the page.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sign/"+token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var page dto.SignPageDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, d.ID.String(), page.DeliveryID)

	// Unknown token.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sign/bogus", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Submit the signature.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("signature", "scribble.png")
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sign/"+token, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var signed dto.DeliveryDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &signed))
	assert.Equal(t, string(domain.DeliveryStatusSigned), signed.Status)

	// The token is consumed.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sign/"+token, nil))
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestDeleteTemplate(t *testing.T) {
	f := newAPIFixture(t)
	tmpl := f.addTemplate(false)

	register := func(r *gin.Engine, h *Handler) {
		r.DELETE("/api/v1/templates/:template_id", h.DeleteTemplate)
	}

	w := performJSON(f.handler, register, http.MethodDelete, "/api/v1/templates/"+tmpl.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []uuid.UUID{tmpl.ID}, f.templates.deleted)

	w = performJSON(f.handler, register, http.MethodDelete, "/api/v1/templates/"+tmpl.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
