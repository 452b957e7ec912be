package uploader

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"

	"recorder-agent/config"
)

// ObjectStore abstracts the destination bucket so the pipeline can be tested
// without a live object-storage endpoint.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Upload(ctx context.Context, objectKey, localPath, contentType string) (string, error)
}

type minioStore struct {
	client        *minio.Client
	bucket        string
	region        string
	publicBaseURL string
}

func NewMinioStore(cfg *config.Config) ObjectStore {
	return &minioStore{
		client:        cfg.Storage,
		bucket:        cfg.Upload.Bucket,
		region:        cfg.Upload.Region,
		publicBaseURL: cfg.Upload.PublicBaseURL,
	}
}

func (s *minioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
}

func (s *minioStore) Upload(ctx context.Context, objectKey, localPath, contentType string) (string, error) {
	_, err := s.client.FPutObject(ctx, s.bucket, objectKey, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return s.objectURL(objectKey), nil
}

func (s *minioStore) objectURL(objectKey string) string {
	base := strings.TrimSuffix(s.publicBaseURL, "/")
	if base == "" {
		base = strings.TrimSuffix(s.client.EndpointURL().String(), "/")
	}
	return fmt.Sprintf("%s/%s/%s", base, s.bucket, objectKey)
}
