package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// S3Store works against AWS S3 and anything that speaks its API through a
// custom endpoint, like Cloudflare R2.
type S3Store struct {
	C         *s3.Client
	presign   *s3.PresignClient
	Bucket    *string
	publicURL string
}

func NewS3(ctx context.Context, creds Credentials, publicBaseURL string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			creds.AccessKey,
			creds.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config, %w", err)
	}

	bucket := aws.String(creds.Bucket)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Region = creds.Region
		if creds.Endpoint != "" {
			o.BaseEndpoint = aws.String(creds.Endpoint)
			o.UsePathStyle = true
		}
	})

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: bucket,
	})
	if err != nil {
		var apiErr smithy.APIError

		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "NotFound" {
				return nil, fmt.Errorf("bucket '%s' does not exist", creds.Bucket)
			}
		}

		return nil, fmt.Errorf("failed to check if bucket exists, %w", err)
	}

	if publicBaseURL == "" {
		if creds.Endpoint != "" {
			publicBaseURL = joinURL(creds.Endpoint, creds.Bucket)
		} else {
			publicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", creds.Bucket, creds.Region)
		}
	}

	return &S3Store{
		C:         client,
		presign:   s3.NewPresignClient(client),
		Bucket:    bucket,
		publicURL: publicBaseURL,
	}, nil
}

func (s *S3Store) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	out, err := s.C.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:       s.Bucket,
		Key:          aws.String(key),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload, %w", err)
	}

	return aws.ToString(out.UploadId), nil
}

func (s *S3Store) UploadPart(ctx context.Context, key, uploadID string, number int32, body []byte) (string, error) {
	out, err := s.C.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        s.Bucket,
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(number),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload part %d, %w", number, err)
	}

	return aws.ToString(out.ETag), nil
}

func (s *S3Store) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (string, error) {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Number),
		})
	}

	out, err := s.C.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   s.Bucket,
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete multipart upload, %w", err)
	}

	if loc := aws.ToString(out.Location); loc != "" {
		return loc, nil
	}

	return s.PublicURL(key), nil
}

func (s *S3Store) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := s.C.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   s.Bucket,
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchUpload" {
			return nil
		}

		return fmt.Errorf("failed to abort multipart upload, %w", err)
	}

	return nil
}

func (s *S3Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	p := s3.NewListObjectsV2Paginator(s.C, &s3.ListObjectsV2Input{
		Bucket: s.Bucket,
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects, %w", err)
		}

		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return keys, nil
}

func (s *S3Store) ListMultipartUploads(ctx context.Context, prefix string) ([]PendingUpload, error) {
	var (
		pending        []PendingUpload
		keyMarker      *string
		uploadIDMarker *string
	)

	for {
		out, err := s.C.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
			Bucket:         s.Bucket,
			Prefix:         aws.String(prefix),
			KeyMarker:      keyMarker,
			UploadIdMarker: uploadIDMarker,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list multipart uploads, %w", err)
		}

		for _, u := range out.Uploads {
			pending = append(pending, PendingUpload{
				Key:       aws.ToString(u.Key),
				UploadID:  aws.ToString(u.UploadId),
				Initiated: aws.ToTime(u.Initiated),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			return pending, nil
		}

		keyMarker, uploadIDMarker = out.NextKeyMarker, out.NextUploadIdMarker
	}
}

func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx,
		&s3.GetObjectInput{
			Bucket:                     s.Bucket,
			Key:                        aws.String(key),
			ResponseContentDisposition: aws.String("inline"),
		},
		s3.WithPresignExpires(ttl),
	)
	if err != nil {
		zap.L().Debug("Failed to presign object", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("failed to presign object, %w", err)
	}

	return req.URL, nil
}

func (s *S3Store) PublicURL(key string) string {
	return joinURL(s.publicURL, key)
}
