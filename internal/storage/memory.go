package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNoSuchUpload = errors.New("no such upload")

type memoryObject struct {
	data        []byte
	contentType string
}

type memoryUpload struct {
	key         string
	contentType string
	parts       map[int32][]byte
	initiated   time.Time
}

// MemoryStore keeps everything in process. It backs local development and
// the tests.
type MemoryStore struct {
	mu        sync.RWMutex
	objects   map[string]memoryObject
	uploads   map[string]*memoryUpload
	publicURL string
	now       func() time.Time
}

func NewMemory(publicBaseURL string) *MemoryStore {
	if publicBaseURL == "" {
		publicBaseURL = "memory://bucket"
	}

	return &MemoryStore{
		objects:   make(map[string]memoryObject),
		uploads:   make(map[string]*memoryUpload),
		publicURL: publicBaseURL,
		now:       time.Now,
	}
}

func (m *MemoryStore) CreateMultipartUpload(_ context.Context, key, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.uploads[id] = &memoryUpload{
		key:         key,
		contentType: contentType,
		parts:       make(map[int32][]byte),
		initiated:   m.now(),
	}

	return id, nil
}

func (m *MemoryStore) UploadPart(ctx context.Context, key, uploadID string, number int32, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.uploads[uploadID]
	if !ok || u.key != key {
		return "", ErrNoSuchUpload
	}

	if number < 1 || number > 10000 {
		return "", fmt.Errorf("invalid part number %d", number)
	}

	u.parts[number] = append([]byte(nil), body...)
	return etag(body), nil
}

func (m *MemoryStore) CompleteMultipartUpload(_ context.Context, key, uploadID string, parts []Part) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.uploads[uploadID]
	if !ok || u.key != key {
		return "", ErrNoSuchUpload
	}

	if len(parts) == 0 {
		return "", errors.New("no parts to complete")
	}

	if !sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number }) {
		return "", errors.New("parts must be in ascending order")
	}

	var data []byte
	for _, p := range parts {
		body, ok := u.parts[p.Number]
		if !ok || etag(body) != p.ETag {
			return "", fmt.Errorf("invalid part %d", p.Number)
		}
		data = append(data, body...)
	}

	m.objects[key] = memoryObject{data: data, contentType: u.contentType}
	delete(m.uploads, uploadID)

	return joinURL(m.publicURL, key), nil
}

func (m *MemoryStore) AbortMultipartUpload(_ context.Context, _, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.uploads, uploadID)
	return nil
}

func (m *MemoryStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	return keys, nil
}

func (m *MemoryStore) ListMultipartUploads(_ context.Context, prefix string) ([]PendingUpload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []PendingUpload
	for id, u := range m.uploads {
		if strings.HasPrefix(u.key, prefix) {
			pending = append(pending, PendingUpload{Key: u.key, UploadID: id, Initiated: u.initiated})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Key < pending[j].Key })

	return pending, nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("object %q does not exist", key)
	}

	q := url.Values{}
	q.Set("response-content-disposition", "inline")
	q.Set("expires", m.now().Add(ttl).UTC().Format(time.RFC3339))

	return joinURL(m.publicURL, key) + "?" + q.Encode(), nil
}

func (m *MemoryStore) PublicURL(key string) string {
	return joinURL(m.publicURL, key)
}

// Put stores an object directly, bypassing the multipart protocol.
func (m *MemoryStore) Put(key string, data []byte, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
}

// Object returns a stored object and its content type.
func (m *MemoryStore) Object(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	return obj.data, obj.contentType, ok
}

func etag(b []byte) string {
	sum := md5.Sum(b)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
