// Package storage talks to the object store. Every backend speaks the same
// multipart protocol so the uploader can stay backend agnostic.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Key prefixes for the two upload entry points.
const (
	PrefixAudioReactions  = "audio-reactions"
	PrefixChatAttachments = "chat-attachments"
)

type Part struct {
	Number int32
	ETag   string
}

// Store is the transport the uploader and the key allocator need.
type Store interface {
	CreateMultipartUpload(ctx context.Context, key, contentType string) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, number int32, body []byte) (etag string, err error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (location string, err error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	// PresignGet returns a time limited URL that displays the object inline.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	PublicURL(key string) string
}

// PendingUpload is a multipart session that was started but never completed
// or aborted.
type PendingUpload struct {
	Key       string
	UploadID  string
	Initiated time.Time
}

type UploadLister interface {
	ListMultipartUploads(ctx context.Context, prefix string) ([]PendingUpload, error)
}

// Credentials for a single bucket. Which fields matter depends on the
// backend.
type Credentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket_name"`
	// Custom endpoint for minio or other S3 compatible stores
	Endpoint string `json:"endpoint"`
	// Cloudflare account, only used by r2
	AccountID string `json:"account_id"`
	UseSSL    bool   `json:"use_ssl"`
}

// New builds the store configured by typ.
func New(ctx context.Context, typ string, creds Credentials, publicBaseURL string) (Store, error) {
	switch strings.ToLower(typ) {
	case "s3":
		return NewS3(ctx, creds, publicBaseURL)
	case "r2":
		if creds.Endpoint == "" {
			creds.Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", creds.AccountID)
		}
		creds.Region = "auto"
		return NewS3(ctx, creds, publicBaseURL)
	case "minio":
		return NewMinio(ctx, creds, publicBaseURL)
	case "memory":
		return NewMemory(publicBaseURL), nil
	}

	return nil, fmt.Errorf("unknown storage type %q", typ)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
