package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/inkpress/docflow-be/internal/domain"
)

// Config holds the external conversion service settings.
type Config struct {
	URL            string
	RequestTimeout time.Duration
	RetryAttempts  int
}

// Converter turns an intermediate document into the final distributable
// format by delegating to an external conversion service.
type Converter struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Converter with a timeout-bounded HTTP client.
func New(cfg Config, logger *slog.Logger) *Converter {
	return &Converter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}
}

// Convert posts the intermediate document to the conversion service and
// writes the result to a transient local file, returning its path. Network
// errors and service errors are retried with backoff; any terminal failure
// is reported uniformly as ErrConversionFailed so callers can apply one
// fallback/cleanup path.
func (c *Converter) Convert(ctx context.Context, inPath string) (string, error) {
	input, err := os.ReadFile(inPath)
	if err != nil {
		return "", fmt.Errorf("%w: read intermediate document: %v", domain.ErrConversionFailed, err)
	}

	var output []byte
	operation := func() error {
		out, opErr := c.post(ctx, input)
		if opErr != nil {
			return opErr
		}
		output = out
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	policy := backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(c.cfg.RetryAttempts))

	if err := backoff.Retry(operation, policy); err != nil {
		c.logger.Error("conversion failed",
			slog.String("input", inPath),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %v", domain.ErrConversionFailed, err)
	}

	f, err := os.CreateTemp("", "docflow-final-*.pdf")
	if err != nil {
		return "", fmt.Errorf("%w: create output file: %v", domain.ErrConversionFailed, err)
	}
	if _, err := f.Write(output); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: write output file: %v", domain.ErrConversionFailed, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: close output file: %v", domain.ErrConversionFailed, err)
	}

	c.logger.Debug("document converted",
		slog.String("input", inPath),
		slog.String("output", f.Name()),
	)
	return f.Name(), nil
}

func (c *Converter) post(ctx context.Context, input []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(input))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "text/html")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("conversion service returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// 4xx means the input itself is rejected, retrying cannot help
		return nil, backoff.Permanent(fmt.Errorf("conversion service returned %d", resp.StatusCode))
	}

	return io.ReadAll(resp.Body)
}
