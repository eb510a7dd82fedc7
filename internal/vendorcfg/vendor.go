// Package vendorcfg resolves the credentials of external services. Redis is
// checked first, then the database, then the static configuration.
package vendorcfg

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitwise74/reactions-api/internal/model"
	"bitwise74/reactions-api/internal/repository"
	"bitwise74/reactions-api/internal/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const KeyPrefix = "VENDOR_CONFIG_"

// Cache is the subset of *redis.Client the resolver uses.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type Source interface {
	VendorConfig(ctx context.Context, tag string) (*model.VendorConfig, error)
	VendorConfigs(ctx context.Context) ([]model.VendorConfig, error)
}

type Resolver struct {
	cache    Cache
	source   Source
	fallback storage.Credentials
	ttl      time.Duration
}

// NewResolver accepts a nil cache or source, the lookup then skips that
// layer.
func NewResolver(c Cache, s Source, fallback storage.Credentials, ttl time.Duration) *Resolver {
	return &Resolver{
		cache:    c,
		source:   s,
		fallback: fallback,
		ttl:      ttl,
	}
}

func NewRedis(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Credentials returns the store credentials registered under tag.
func (r *Resolver) Credentials(ctx context.Context, tag string) (storage.Credentials, error) {
	key := KeyPrefix + tag

	if r.cache != nil {
		raw, err := r.cache.Get(ctx, key).Result()
		switch {
		case err == nil:
			creds, err := decode(raw)
			if err == nil {
				return creds, nil
			}
			zap.L().Warn("Malformed cached vendor config", zap.String("tag", tag), zap.Error(err))
		case !errors.Is(err, redis.Nil):
			zap.L().Warn("Failed to read vendor config from redis", zap.String("tag", tag), zap.Error(err))
		}
	}

	if r.source != nil {
		c, err := r.source.VendorConfig(ctx, tag)
		switch {
		case err == nil:
			creds, err := decode(c.ConfigDetail)
			if err != nil {
				return storage.Credentials{}, fmt.Errorf("malformed vendor config %q, %w", tag, err)
			}

			if r.cache != nil {
				if err := r.cache.Set(ctx, key, c.ConfigDetail, r.ttl).Err(); err != nil {
					zap.L().Warn("Failed to cache vendor config", zap.String("tag", tag), zap.Error(err))
				}
			}

			return creds, nil
		case !errors.Is(err, repository.ErrNotFound):
			zap.L().Warn("Failed to read vendor config from database", zap.String("tag", tag), zap.Error(err))
		}
	}

	if r.fallback.Bucket != "" {
		zap.L().Debug("Using configured credentials", zap.String("tag", tag))
		return r.fallback, nil
	}

	return storage.Credentials{}, fmt.Errorf("no credentials found for vendor %q", tag)
}

// Sync mirrors every database row into redis and returns how many were
// written.
func (r *Resolver) Sync(ctx context.Context) (int, error) {
	if r.cache == nil || r.source == nil {
		return 0, errors.New("sync needs both redis and the database")
	}

	cs, err := r.source.VendorConfigs(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, c := range cs {
		if _, err := decode(c.ConfigDetail); err != nil {
			zap.L().Warn("Skipping malformed vendor config", zap.String("tag", c.Tag), zap.Error(err))
			continue
		}

		if err := r.cache.Set(ctx, KeyPrefix+c.Tag, c.ConfigDetail, r.ttl).Err(); err != nil {
			return n, fmt.Errorf("failed to write vendor config %q, %w", c.Tag, err)
		}
		n++
	}

	return n, nil
}

// detail is a stored config_detail document. Rows written by the admin
// tooling use the upper case AWS names.
type detail struct {
	storage.Credentials
	AWSBucket    string `json:"AWS_BUCKET"`
	AWSAccessKey string `json:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey string `json:"AWS_SECRET_ACCESS_KEY"`
	AWSRegion    string `json:"REGION"`
}

func decode(raw string) (storage.Credentials, error) {
	var d detail
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return storage.Credentials{}, err
	}

	c := d.Credentials
	c.Bucket = cmp.Or(c.Bucket, d.AWSBucket)
	c.AccessKey = cmp.Or(c.AccessKey, d.AWSAccessKey)
	c.SecretKey = cmp.Or(c.SecretKey, d.AWSSecretKey)
	c.Region = cmp.Or(c.Region, d.AWSRegion)

	if c.Bucket == "" {
		return c, errors.New("bucket_name is missing")
	}

	return c, nil
}
