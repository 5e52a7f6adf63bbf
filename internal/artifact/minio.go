package artifact

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOMirror copies published artifacts into an object-store bucket so
// they survive local eviction and host loss.
type MinIOMirror struct {
	client      *minio.Client
	bucket      string
	contentType string
}

type MinIOConfig struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	UseSSL      bool
	ContentType string
}

func NewMinIOMirror(cfg MinIOConfig) (*MinIOMirror, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required when MESHFORGE_ARTIFACT_BACKEND=minio")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "meshforge-artifacts"
	}
	contentType := strings.TrimSpace(cfg.ContentType)
	if contentType == "" {
		contentType = "model/stl"
	}
	return &MinIOMirror{client: client, bucket: bucket, contentType: contentType}, nil
}

func (m *MinIOMirror) Put(ctx context.Context, id, path string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	_, err = m.client.FPutObject(ctx, m.bucket, id, path, minio.PutObjectOptions{ContentType: m.contentType})
	return err
}
