package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// faultyStore wraps the memory store and fails on demand.
type faultyStore struct {
	*MemoryStore

	failPart     int32
	failComplete bool
	failList     bool

	aborts      atomic.Int32
	abortCtxErr error

	mu   sync.Mutex
	seen []int32
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: NewMemory("https://cdn.example.com")}
}

func (f *faultyStore) UploadPart(ctx context.Context, key, uploadID string, number int32, body []byte) (string, error) {
	f.mu.Lock()
	f.seen = append(f.seen, number)
	f.mu.Unlock()

	if number == f.failPart {
		return "", errors.New("connection reset by peer")
	}

	return f.MemoryStore.UploadPart(ctx, key, uploadID, number, body)
}

func (f *faultyStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (string, error) {
	if f.failComplete {
		return "", errors.New("internal error")
	}

	return f.MemoryStore.CompleteMultipartUpload(ctx, key, uploadID, parts)
}

func (f *faultyStore) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	f.aborts.Add(1)
	f.abortCtxErr = ctx.Err()

	return f.MemoryStore.AbortMultipartUpload(ctx, key, uploadID)
}

func (f *faultyStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if f.failList {
		return nil, errors.New("access denied")
	}

	return f.MemoryStore.ListKeys(ctx, prefix)
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}

	return b
}

func pendingCount(m *MemoryStore) int {
	p, _ := m.ListMultipartUploads(context.Background(), "")
	return len(p)
}

