package artifacts

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageConfig holds the object-storage connection settings for
// artifact URL signing.
type StorageConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	UseSSL          bool          `yaml:"use_ssl"`
	Region          string        `yaml:"region"`
	Bucket          string        `yaml:"bucket"`
	SignedURLTTL    time.Duration `yaml:"signed_url_ttl"`
}

// Signer produces time-limited download URLs for stored objects.
type Signer interface {
	SignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// MinioSigner signs object URLs against a MinIO (or S3-compatible)
// backend.
type MinioSigner struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

var _ Signer = (*MinioSigner)(nil)

// NewMinioSigner creates a signer for the configured bucket.
func NewMinioSigner(cfg StorageConfig, logger *zap.Logger) (*MinioSigner, error) {
	logger.Info("Initializing artifact storage client",
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("useSSL", cfg.UseSSL),
		zap.String("bucket", cfg.Bucket),
	)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("artifact bucket is not configured")
	}

	return &MinioSigner{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.Named("artifact_signer"),
	}, nil
}

// SignedURL generates a presigned GET URL for the given object key.
func (s *MinioSigner) SignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}

	reqParams := make(url.Values)
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, expiry, reqParams)
	if err != nil {
		s.logger.Error("Failed to generate signed URL",
			zap.String("bucket", s.bucket),
			zap.String("key", objectKey),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to sign URL for %s/%s: %w", s.bucket, objectKey, err)
	}

	s.logger.Debug("Signed URL generated",
		zap.String("key", objectKey),
		zap.Duration("expiry", expiry),
	)
	return presigned.String(), nil
}
