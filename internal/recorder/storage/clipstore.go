package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/mirrorglass/mirrorcam/internal/config"
)

// ClipStoreMetrics tracks upload counters
type ClipStoreMetrics struct {
	Uploads      atomic.Uint64
	UploadBytes  atomic.Uint64
	UploadErrors atomic.Uint64
}

// ClipStore uploads finished clips to a MinIO bucket. It is entirely
// optional: when no endpoint is configured the application simply keeps
// clips on the local disk.
type ClipStore struct {
	client  *minio.Client
	bucket  string
	retries int
	logger  *zap.Logger

	metrics ClipStoreMetrics
}

// NewClipStore creates a clip store and ensures the bucket exists
func NewClipStore(ctx context.Context, cfg config.StorageConfig) (*ClipStore, error) {
	client, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
		Secure: cfg.MinIOUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	store := &ClipStore{
		client:  client,
		bucket:  cfg.MinIOBucket,
		retries: cfg.UploadRetries,
		logger:  zap.L().Named("clip-store"),
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, store.bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", store.bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, store.bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", store.bucket, err)
		}
		store.logger.Info("Created clip bucket", zap.String("bucket", store.bucket))
	}

	return store, nil
}

// ObjectKey derives the storage key for a clip file, partitioned by day
// so retention sweeps stay cheap.
func ObjectKey(startTime time.Time, path string) string {
	return fmt.Sprintf("%s/%s", startTime.UTC().Format("2006/01/02"), filepath.Base(path))
}

// Upload pushes a local clip file to the bucket under the given key,
// retrying transient failures with exponential backoff.
func (s *ClipStore) Upload(ctx context.Context, localPath, key string) error {
	op := func() error {
		info, err := s.client.FPutObject(ctx, s.bucket, key, localPath,
			minio.PutObjectOptions{ContentType: "video/mp4"})
		if err != nil {
			s.metrics.UploadErrors.Add(1)
			return err
		}
		s.metrics.Uploads.Add(1)
		s.metrics.UploadBytes.Add(uint64(info.Size))

		s.logger.Info("Clip uploaded",
			zap.String("key", key),
			zap.Int64("size", info.Size),
			zap.String("etag", info.ETag))
		return nil
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = time.Second
	ebo.MaxInterval = 30 * time.Second

	var policy backoff.BackOff = ebo
	if s.retries > 0 {
		policy = backoff.WithMaxRetries(ebo, uint64(s.retries))
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Metrics returns a snapshot of the upload counters
func (s *ClipStore) Metrics() (uploads, bytes, errors uint64) {
	return s.metrics.Uploads.Load(), s.metrics.UploadBytes.Load(), s.metrics.UploadErrors.Load()
}
