package media

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioBlobs stores audio in an S3-compatible bucket, one object per content
// address.
type MinioBlobs struct {
	client *minio.Client
	bucket string
}

// NewMinioBlobs connects to the endpoint and creates the bucket if needed.
func NewMinioBlobs(ctx context.Context, cfg MinioConfig) (*MinioBlobs, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioBlobs{client: client, bucket: cfg.Bucket}, nil
}

// PutBlob uploads data unless an object with the same key already exists.
func (b *MinioBlobs) PutBlob(ctx context.Context, key, contentType string, data []byte) error {
	if _, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{}); err == nil {
		return nil
	} else if !isNoSuchKey(err) {
		return failure.Wrap(failure.ErrStorageUnavailable, "put blob", err)
	}
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return failure.Wrap(failure.ErrStorageUnavailable, "put blob", err)
	}
	return nil
}

func (b *MinioBlobs) GetBlob(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", failure.Wrap(failure.ErrStorageUnavailable, "get blob", err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", failure.New(failure.ErrNotFound, "get blob", "blob %s not found", key)
		}
		return nil, "", failure.Wrap(failure.ErrStorageUnavailable, "get blob", err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", failure.Wrap(failure.ErrStorageUnavailable, "get blob", err)
	}
	return data, info.ContentType, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
