package sweeper

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/inkpress/docflow-be/internal/domain"
	"github.com/inkpress/docflow-be/internal/mail"
	"github.com/inkpress/docflow-be/internal/metrics"
)

// DeliveryStore is the delivery persistence surface the sweep needs.
type DeliveryStore interface {
	ListDue(ctx context.Context, now time.Time) ([]domain.Delivery, error)
	Promote(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// ArtifactStore fetches the stored document for mailing.
type ArtifactStore interface {
	DownloadToTemp(ctx context.Context, key string) (string, error)
}

// Mailer sends one composed message.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// Sweeper periodically dispatches scheduled deliveries whose due time has
// passed. Promotion is the claim: the status check inside it makes the sweep
// safe to run on several instances at once, and safe to re-run over the same
// rows.
type Sweeper struct {
	deliveries DeliveryStore
	artifacts  ArtifactStore
	mailer     Mailer
	interval   time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a Sweeper.
func New(deliveries DeliveryStore, artifacts ArtifactStore, mailer Mailer, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		deliveries: deliveries,
		artifacts:  artifacts,
		mailer:     mailer,
		interval:   interval,
		now:        time.Now,
		logger:     logger,
	}
}

// Start runs the sweep on its interval until ctx is canceled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("sweeper starting", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep dispatches every due delivery once. A failed item is marked failed
// and does not stop the rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	due, err := s.deliveries.ListDue(ctx, s.now())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	s.logger.Info("sweeping due deliveries", slog.Int("count", len(due)))
	for i := range due {
		s.dispatch(ctx, &due[i])
	}
	return nil
}

// dispatch promotes one delivery and mails it. Losing the promotion means
// another sweep already took the row.
func (s *Sweeper) dispatch(ctx context.Context, d *domain.Delivery) {
	won, err := s.deliveries.Promote(ctx, d.ID)
	if err != nil {
		metrics.SweepErrors.Inc()
		s.logger.Error("failed to promote delivery",
			slog.String("delivery_id", d.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !won {
		return
	}
	metrics.DeliveriesPromoted.Inc()

	var attachmentPath string
	if d.DocumentKey != "" {
		attachmentPath, err = s.artifacts.DownloadToTemp(ctx, d.DocumentKey)
		if err != nil {
			s.fail(ctx, d, err)
			return
		}
		defer os.Remove(attachmentPath)
	}

	if err := s.mailer.Send(ctx, mail.Message{
		From:           d.FromAddress,
		To:             d.ToAddress,
		Subject:        d.Subject,
		HTML:           d.Body,
		AttachmentPath: attachmentPath,
	}); err != nil {
		s.fail(ctx, d, err)
		return
	}
	metrics.DeliveriesSent.Inc()

	s.logger.Info("scheduled delivery dispatched",
		slog.String("delivery_id", d.ID.String()),
		slog.String("to", d.ToAddress),
	)
}

func (s *Sweeper) fail(ctx context.Context, d *domain.Delivery, cause error) {
	metrics.SweepErrors.Inc()
	s.logger.Error("failed to dispatch scheduled delivery",
		slog.String("delivery_id", d.ID.String()),
		slog.String("error", cause.Error()),
	)
	if err := s.deliveries.MarkFailed(ctx, d.ID); err != nil {
		s.logger.Error("failed to mark delivery failed",
			slog.String("delivery_id", d.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
