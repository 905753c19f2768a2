package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"github.com/inkpress/docflow-be/internal/domain"
)

// Config holds mail transport settings.
type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	From          string
	RateLimit     int
	RetryAttempts int
	SendTimeout   time.Duration
}

// Message is one composed mail with at most one attachment.
type Message struct {
	From           string
	To             string
	Subject        string
	HTML           string
	AttachmentPath string
}

// Dispatcher sends composed messages over SMTP with rate limiting and
// bounded retries.
type Dispatcher struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config, logger *slog.Logger) *Dispatcher {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}
	return &Dispatcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(limit), limit),
		logger:  logger,
	}
}

// Send delivers one message. Transient SMTP failures are retried with
// exponential backoff; terminal failure surfaces as ErrMailTransportFailed.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMailTransportFailed, err)
	}

	from := msg.From
	if from == "" {
		from = d.cfg.From
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)
	if msg.AttachmentPath != "" {
		m.Attach(msg.AttachmentPath)
	}

	dialer := gomail.NewDialer(d.cfg.Host, d.cfg.Port, d.cfg.User, d.cfg.Password)

	operation := func() error {
		return dialer.DialAndSend(m)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = d.cfg.SendTimeout
	policy := backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(d.cfg.RetryAttempts))

	if err := backoff.Retry(operation, policy); err != nil {
		d.logger.Error("mail send failed",
			slog.String("to", msg.To),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", domain.ErrMailTransportFailed, err)
	}

	d.logger.Info("mail sent",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}
