package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bandpassrecords/scgate/config"
	"github.com/bandpassrecords/scgate/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	minioClient *minio.Client
	bucket      string
)

// InitMinio initializes the MinIO client and ensures the bucket exists.
func InitMinio(cfg *config.Config) error {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("created bucket", logger.String("bucket", cfg.MinioBucket))
	}

	minioClient = client
	bucket = cfg.MinioBucket
	logger.Info("MinIO client initialized", logger.String("bucket", bucket))
	return nil
}

// GetMinioClient returns the MinIO client instance.
func GetMinioClient() *minio.Client {
	return minioClient
}

// PutObject uploads a gated file under the given object key.
func PutObject(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	if minioClient == nil {
		return fmt.Errorf("MinIO client not initialized")
	}
	_, err := minioClient.PutObject(ctx, bucket, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", objectKey, err)
	}
	return nil
}

// GetObject opens a gated file for streaming. StatObject runs first so a
// missing object surfaces as a distinct error before any bytes are written.
func GetObject(ctx context.Context, objectKey string) (io.ReadCloser, int64, error) {
	if minioClient == nil {
		return nil, 0, fmt.Errorf("MinIO client not initialized")
	}
	info, err := minioClient.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat object %s: %w", objectKey, err)
	}
	object, err := minioClient.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open object %s: %w", objectKey, err)
	}
	return object, info.Size, nil
}

// RemoveObject deletes an object; used best-effort when a gate is deleted
// or its file replaced.
func RemoveObject(ctx context.Context, objectKey string) error {
	if minioClient == nil {
		return fmt.Errorf("MinIO client not initialized")
	}
	if err := minioClient.RemoveObject(ctx, bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %s: %w", objectKey, err)
	}
	return nil
}
