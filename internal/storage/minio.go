package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore targets self hosted MinIO deployments.
type MinioStore struct {
	core      *minio.Core
	bucket    string
	publicURL string
}

func NewMinio(ctx context.Context, creds Credentials, publicBaseURL string) (*MinioStore, error) {
	endpoint := creds.Endpoint
	secure := creds.UseSSL
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	core, err := minio.NewCore(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(creds.AccessKey, creds.SecretKey, ""),
		Secure: secure,
		Region: creds.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init minio, %w", err)
	}

	exists, err := core.BucketExists(ctx, creds.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists, %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket '%s' does not exist", creds.Bucket)
	}

	if publicBaseURL == "" {
		scheme := "http"
		if secure {
			scheme = "https"
		}
		publicBaseURL = fmt.Sprintf("%s://%s/%s", scheme, endpoint, creds.Bucket)
	}

	return &MinioStore{
		core:      core,
		bucket:    creds.Bucket,
		publicURL: publicBaseURL,
	}, nil
}

func (m *MinioStore) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	id, err := m.core.NewMultipartUpload(ctx, m.bucket, key, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload, %w", err)
	}

	return id, nil
}

func (m *MinioStore) UploadPart(ctx context.Context, key, uploadID string, number int32, body []byte) (string, error) {
	part, err := m.core.PutObjectPart(ctx, m.bucket, key, uploadID, int(number), bytes.NewReader(body), int64(len(body)), minio.PutObjectPartOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to upload part %d, %w", number, err)
	}

	return part.ETag, nil
}

func (m *MinioStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (string, error) {
	completed := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, minio.CompletePart{PartNumber: int(p.Number), ETag: p.ETag})
	}

	info, err := m.core.CompleteMultipartUpload(ctx, m.bucket, key, uploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to complete multipart upload, %w", err)
	}

	if info.Location != "" {
		return info.Location, nil
	}

	return m.PublicURL(key), nil
}

func (m *MinioStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := m.core.AbortMultipartUpload(ctx, m.bucket, key, uploadID); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchUpload" {
			return nil
		}

		return fmt.Errorf("failed to abort multipart upload, %w", err)
	}

	return nil
}

func (m *MinioStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	for obj := range m.core.Client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects, %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}

func (m *MinioStore) ListMultipartUploads(ctx context.Context, prefix string) ([]PendingUpload, error) {
	var (
		pending                   []PendingUpload
		keyMarker, uploadIDMarker string
	)

	for {
		res, err := m.core.ListMultipartUploads(ctx, m.bucket, prefix, keyMarker, uploadIDMarker, "", 1000)
		if err != nil {
			return nil, fmt.Errorf("failed to list multipart uploads, %w", err)
		}

		for _, u := range res.Uploads {
			pending = append(pending, PendingUpload{Key: u.Key, UploadID: u.UploadID, Initiated: u.Initiated})
		}

		if !res.IsTruncated {
			return pending, nil
		}

		keyMarker, uploadIDMarker = res.NextKeyMarker, res.NextUploadIDMarker
	}
}

func (m *MinioStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", "inline")

	u, err := m.core.PresignedGetObject(ctx, m.bucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("failed to presign object, %w", err)
	}

	return u.String(), nil
}

func (m *MinioStore) PublicURL(key string) string {
	return joinURL(m.publicURL, key)
}
