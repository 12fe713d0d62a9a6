package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/facturaIA/extraction-service/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// PresignExpiry is how long a review link stays valid
const PresignExpiry = 24 * time.Hour

// DocumentStore keeps original documents routed to human review
type DocumentStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
	now    func() time.Time
}

// New connects to MinIO and checks that the bucket exists
func New(ctx context.Context, cfg models.StorageConfig, logger *slog.Logger) (*DocumentStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("no storage endpoint configured")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	logger.Info("document storage ready", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return &DocumentStore{client: client, bucket: cfg.Bucket, logger: logger, now: time.Now}, nil
}

// ObjectName lays documents out per tenant and month: {tenant}/YYYY/MM/{id}{ext}
func ObjectName(tenant, id, ext string, at time.Time) string {
	if tenant == "" {
		tenant = "default"
	}
	return fmt.Sprintf("%s/%d/%02d/%s%s", tenant, at.Year(), at.Month(), id, ext)
}

// Upload stores a document for tenant and returns its object path
// ("bucket/object")
func (s *DocumentStore) Upload(ctx context.Context, tenant, id string, data []byte) (string, error) {
	contentType := ContentType(data)
	objectName := ObjectName(tenant, id, GetFileExtension(contentType), s.now().UTC())

	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}
	s.logger.Debug("document uploaded", "object", objectName, "bytes", len(data))
	return s.bucket + "/" + objectName, nil
}

// PresignedURL generates a time-limited link for viewing a stored document
func (s *DocumentStore) PresignedURL(ctx context.Context, objectPath string) (string, error) {
	objectName := strings.TrimPrefix(objectPath, s.bucket+"/")

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, PresignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return u.String(), nil
}

// ErrForeignObject is returned when a path is not a document of the tenant
var ErrForeignObject = errors.New("object does not belong to tenant")

// Delete removes a tenant's stored document once its review is confirmed
func (s *DocumentStore) Delete(ctx context.Context, tenant, objectPath string) error {
	objectName, err := s.tenantObject(tenant, objectPath)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	s.logger.Debug("document deleted", "object", objectName)
	return nil
}

// tenantObject resolves a "bucket/object" path, keeping it inside the
// tenant's prefix
func (s *DocumentStore) tenantObject(tenant, objectPath string) (string, error) {
	if tenant == "" {
		tenant = "default"
	}
	objectName, ok := strings.CutPrefix(objectPath, s.bucket+"/")
	if !ok || !strings.HasPrefix(objectName, tenant+"/") || strings.Contains(objectName, "..") {
		return "", fmt.Errorf("%w: %q", ErrForeignObject, objectPath)
	}
	return objectName, nil
}

// Healthy reports whether the bucket is reachable
func (s *DocumentStore) Healthy(ctx context.Context) bool {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	return err == nil && ok
}

// ContentType sniffs a document's media type
func ContentType(data []byte) string {
	if len(data) >= 4 && (bytes.Equal(data[:4], []byte("II*\x00")) || bytes.Equal(data[:4], []byte("MM\x00*"))) {
		return "image/tiff"
	}
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// GetFileExtension extracts file extension from content type
func GetFileExtension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/tiff":
		return ".tiff"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
