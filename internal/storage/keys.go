package storage

import (
	"context"
	"strings"
	"time"

	"bitwise74/reactions-api/internal/apperr"
	"bitwise74/reactions-api/pkg/util"

	"go.uber.org/zap"
)

const keyTimeLayout = "20060102150405"

// BuildKey returns <prefix>/<tag>_<YYYYMMDDhhmmss><ext> where tag is the
// extension without its dot.
func BuildKey(prefix, ext string, t time.Time) string {
	ext = normalizeExt(ext)
	return prefix + "/" + strings.TrimPrefix(ext, ".") + "_" + t.UTC().Format(keyTimeLayout) + ext
}

// Allocator hands out object keys that did not exist at the time they were
// checked. Two requests in the same second can still race for one key.
type Allocator struct {
	store        Store
	now          func() time.Time
	randomSuffix bool
}

func NewAllocator(s Store, now func() time.Time, randomSuffix bool) *Allocator {
	if now == nil {
		now = time.Now
	}

	return &Allocator{
		store:        s,
		now:          now,
		randomSuffix: randomSuffix,
	}
}

func (a *Allocator) Allocate(ctx context.Context, prefix, ext string) (string, error) {
	ext = normalizeExt(ext)
	key := BuildKey(prefix, ext, a.now())

	if a.randomSuffix {
		key = strings.TrimSuffix(key, ext) + "_" + util.RandStr(6) + ext
	}

	existing, err := a.store.ListKeys(ctx, key)
	if err != nil {
		return "", apperr.Wrap(apperr.UploadError, "Failed to check existing files", err)
	}

	for _, k := range existing {
		if k == key {
			zap.L().Warn("Object key already taken", zap.String("key", key))
			return "", apperr.New(apperr.KeyCollision, "File name already exists")
		}
	}

	return key, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return ext
}
