package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"bitwise74/reactions-api/internal/apperr"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize = 5 << 20
	abortTimeout     = 30 * time.Second
)

// Result describes a completed upload.
type Result struct {
	Key         string
	UploadID    string
	Location    string
	ContentType string
	Size        int64
	Parts       int
}

// Uploader streams a reader into the store as a multipart upload. A session
// ends either completed or aborted, never left open by this process.
type Uploader struct {
	store       Store
	chunkSize   int
	concurrency int
}

func NewUploader(s Store, chunkSize, concurrency int) *Uploader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	return &Uploader{
		store:       s,
		chunkSize:   chunkSize,
		concurrency: concurrency,
	}
}

// Upload reads r in chunks and sends them as numbered parts. At most
// concurrency chunks are held in memory at once.
func (u *Uploader) Upload(ctx context.Context, key string, r io.Reader, contentType string) (*Result, error) {
	uploadID, err := u.store.CreateMultipartUpload(ctx, key, contentType)
	if err != nil {
		return nil, apperr.Wrap(apperr.UploadError, "Failed to upload file", err)
	}

	zap.L().Debug("Multipart upload initiated", zap.String("key", key), zap.String("upload_id", uploadID))

	var (
		mu      sync.Mutex
		parts   []Part
		size    int64
		number  int32
		readErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	for gctx.Err() == nil {
		buf := make([]byte, u.chunkSize)

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			number++
			num, body := number, buf[:n]
			size += int64(n)

			g.Go(func() error {
				etag, err := u.store.UploadPart(gctx, key, uploadID, num, body)
				if err != nil {
					return fmt.Errorf("failed to upload part %d, %w", num, err)
				}

				mu.Lock()
				parts = append(parts, Part{Number: num, ETag: etag})
				mu.Unlock()
				return nil
			})
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			readErr = fmt.Errorf("failed to read upload body, %w", err)
			break
		}
	}

	partErr := g.Wait()

	switch {
	case readErr != nil:
		return nil, u.abort(ctx, key, uploadID, readErr)
	case partErr != nil:
		return nil, u.abort(ctx, key, uploadID, partErr)
	case ctx.Err() != nil:
		return nil, u.abort(ctx, key, uploadID, ctx.Err())
	case number == 0:
		return nil, u.abort(ctx, key, uploadID, errors.New("upload body is empty"))
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })

	location, err := u.store.CompleteMultipartUpload(ctx, key, uploadID, parts)
	if err != nil {
		return nil, u.abort(ctx, key, uploadID, err)
	}

	zap.L().Info("Multipart upload completed",
		zap.String("key", key),
		zap.Int("parts", len(parts)),
		zap.Int64("size", size))

	return &Result{
		Key:         key,
		UploadID:    uploadID,
		Location:    location,
		ContentType: contentType,
		Size:        size,
		Parts:       len(parts),
	}, nil
}

// abort releases the session even when ctx is already cancelled.
func (u *Uploader) abort(ctx context.Context, key, uploadID string, cause error) error {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	if err := u.store.AbortMultipartUpload(actx, key, uploadID); err != nil {
		zap.L().Error("Failed to abort multipart upload",
			zap.String("key", key),
			zap.String("upload_id", uploadID),
			zap.Error(err))
	} else {
		zap.L().Warn("Aborted multipart upload",
			zap.String("key", key),
			zap.String("upload_id", uploadID),
			zap.Error(cause))
	}

	return apperr.Wrap(apperr.UploadError, "Failed to upload file", cause)
}
