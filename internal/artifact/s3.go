package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/inkpress/docflow-be/internal/domain"
)

// Object categories map to S3 key prefixes.
const (
	CategoryTemplates = "templates"
	CategoryDocuments = "documents"
)

// Object identifies one stored artifact.
type Object struct {
	URL string
	Key string
}

// Config holds S3 client configuration.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Endpoint        string
}

// Store provides get/put/delete of binary artifacts by opaque key.
// Failures propagate: rollback correctness depends on knowing whether
// an artifact actually exists remotely.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      Config
	logger   *slog.Logger
}

// NewStore creates an S3-backed artifact store. Credentials fall back to the
// default chain (AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY) when not configured.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
	})

	return &Store{client: client, uploader: uploader, cfg: cfg, logger: logger}, nil
}

// DownloadToTemp fetches a remote artifact into a transient local file and
// returns its path. The caller owns cleanup.
func (s *Store) DownloadToTemp(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	defer out.Body.Close()

	f, err := os.CreateTemp("", "docflow-*"+path.Ext(key))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: read %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}

	s.logger.Debug("artifact downloaded",
		slog.String("key", key),
		slog.String("path", f.Name()),
	)
	return f.Name(), nil
}

// Upload stores bytes under a logical category and returns the public URL and key.
func (s *Store) Upload(ctx context.Context, data []byte, name, category string) (Object, error) {
	key := path.Join(category, uuid.New().String(), path.Base(name))

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeForName(name)),
	})
	if err != nil {
		return Object{}, fmt.Errorf("%w: upload %s: %v", domain.ErrStoreUnavailable, key, err)
	}

	obj := Object{
		URL: fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key),
		Key: key,
	}
	s.logger.Debug("artifact uploaded", slog.String("key", key))
	return obj, nil
}

// Delete removes an artifact. Removal is idempotent: deleting an absent key
// succeeds, which rollback relies on.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return nil
}

func contentTypeForName(name string) string {
	switch path.Ext(name) {
	case ".pdf":
		return "application/pdf"
	case ".html", ".htm":
		return "text/html"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
