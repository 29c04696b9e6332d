// Package minio archives published snapshots to S3-compatible storage.
package minio

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"github.com/turtacn/CrimeSight-Intelligence/internal/config"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// ObjectInfo is the listing entry the archive needs.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectAPI is the slice of the MinIO client the archive uses.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
	SetExpiry(ctx context.Context, bucket, prefix string, days int) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string, meta map[string]string) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// NewClient connects to MinIO, checks reachability and makes sure the
// archive bucket exists.
func NewClient(ctx context.Context, cfg config.MinIOConfig, log logging.Logger) (ObjectAPI, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to create minio client")
	}
	api := &clientAdapter{c: mc}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := api.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to reach minio")
	}
	if !exists {
		if err := api.MakeBucket(ctx, cfg.Bucket, region); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to create bucket "+cfg.Bucket)
		}
		log.Info("created bucket", logging.String("bucket", cfg.Bucket))
	}
	log.Info("minio client connected", logging.String("endpoint", cfg.Endpoint), logging.Bool("ssl", cfg.UseSSL))
	return api, nil
}

type clientAdapter struct {
	c *minio.Client
}

func (a *clientAdapter) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return a.c.BucketExists(ctx, bucket)
}

func (a *clientAdapter) MakeBucket(ctx context.Context, bucket, region string) error {
	return a.c.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func (a *clientAdapter) SetExpiry(ctx context.Context, bucket, prefix string, days int) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{{
		ID:         "snapshot-expiry",
		Status:     "Enabled",
		RuleFilter: lifecycle.Filter{Prefix: prefix},
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
	}}
	return a.c.SetBucketLifecycle(ctx, bucket, cfg)
}

func (a *clientAdapter) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string, meta map[string]string) error {
	_, err := a.c.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType, UserMetadata: meta})
	return err
}

func (a *clientAdapter) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return a.c.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

func (a *clientAdapter) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range a.c.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	return out, nil
}
