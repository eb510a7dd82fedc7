package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"testing/iotest"

	"bitwise74/reactions-api/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "chat-attachments/mp4_20240501120000.mp4"

func TestUploadSplitsIntoParts(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		m := NewMemory("https://cdn.example.com")
		data := payload(12 << 20)

		res, err := NewUploader(m, DefaultChunkSize, concurrency).Upload(context.Background(), testKey, bytes.NewReader(data), "video/mp4")
		require.NoError(t, err)

		assert.Equal(t, 3, res.Parts)
		assert.Equal(t, int64(len(data)), res.Size)
		assert.Equal(t, "https://cdn.example.com/"+testKey, res.Location)

		stored, contentType, ok := m.Object(testKey)
		require.True(t, ok)
		assert.Equal(t, "video/mp4", contentType)
		assert.True(t, bytes.Equal(data, stored), "object must match input byte for byte")
		assert.Zero(t, pendingCount(m))
	}
}

func TestUploadExactChunkMultiple(t *testing.T) {
	m := NewMemory("")
	data := payload(2 * 1024)

	res, err := NewUploader(m, 1024, 1).Upload(context.Background(), testKey, bytes.NewReader(data), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Parts)
}

func TestUploadAbortsOnPartFailure(t *testing.T) {
	f := newFaultyStore()
	f.failPart = 3

	// Five parts, the third one fails
	_, err := NewUploader(f, DefaultChunkSize, 1).Upload(context.Background(), testKey, bytes.NewReader(payload(22<<20)), "video/mp4")
	require.Error(t, err)
	assert.Equal(t, apperr.UploadError, apperr.KindOf(err))

	assert.Equal(t, int32(1), f.aborts.Load())
	assert.Zero(t, pendingCount(f.MemoryStore))

	_, _, ok := f.Object(testKey)
	assert.False(t, ok)
}

func TestUploadAbortsOnCompleteFailure(t *testing.T) {
	f := newFaultyStore()
	f.failComplete = true

	_, err := NewUploader(f, 1024, 2).Upload(context.Background(), testKey, bytes.NewReader(payload(4096)), "video/mp4")
	require.Error(t, err)
	assert.Equal(t, apperr.UploadError, apperr.KindOf(err))
	assert.Equal(t, int32(1), f.aborts.Load())
	assert.Zero(t, pendingCount(f.MemoryStore))
}

func TestUploadEmptyStream(t *testing.T) {
	f := newFaultyStore()

	_, err := NewUploader(f, 1024, 1).Upload(context.Background(), testKey, bytes.NewReader(nil), "text/plain")
	require.Error(t, err)
	assert.Equal(t, apperr.UploadError, apperr.KindOf(err))
	assert.Equal(t, int32(1), f.aborts.Load())
	assert.Empty(t, f.seen)
}

func TestUploadReadFailure(t *testing.T) {
	f := newFaultyStore()
	r := iotest.TimeoutReader(bytes.NewReader(payload(4096)))

	_, err := NewUploader(f, 1024, 1).Upload(context.Background(), testKey, r, "text/plain")
	require.Error(t, err)
	assert.Equal(t, apperr.UploadError, apperr.KindOf(err))
	assert.Equal(t, int32(1), f.aborts.Load())
	assert.Zero(t, pendingCount(f.MemoryStore))
}

func TestUploadCancelledContextStillAborts(t *testing.T) {
	f := newFaultyStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewUploader(f, 1024, 1).Upload(ctx, testKey, bytes.NewReader(payload(4096)), "text/plain")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), f.aborts.Load())
	assert.NoError(t, f.abortCtxErr)
	assert.Zero(t, pendingCount(f.MemoryStore))
}
