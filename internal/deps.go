package internal

import (
	"context"
	"fmt"
	"time"

	"bitwise74/reactions-api/db"
	"bitwise74/reactions-api/internal/ingest"
	"bitwise74/reactions-api/internal/linker"
	"bitwise74/reactions-api/internal/media"
	"bitwise74/reactions-api/internal/metrics"
	"bitwise74/reactions-api/internal/notify"
	"bitwise74/reactions-api/internal/repository"
	"bitwise74/reactions-api/internal/service"
	"bitwise74/reactions-api/internal/storage"
	"bitwise74/reactions-api/internal/vendorcfg"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Deps struct {
	DB         *gorm.DB
	Repo       *repository.Repository
	Store      storage.Store
	Pipeline   *ingest.Pipeline
	Linker     *linker.Linker
	JobQueue   *service.JobQueue
	Metrics    *metrics.Metrics
	Janitor    *storage.Janitor
	Redis      *redis.Client
	Queue      *asynq.Client
	PresignTTL time.Duration
	MaxSize    int64
}

// NewDeps builds everything the HTTP API needs from the loaded config. The
// ffmpeg worker pool is started, Close stops it.
func NewDeps(ctx context.Context) (*Deps, error) {
	d := &Deps{
		PresignTTL: v.GetDuration("storage.presign_ttl"),
		MaxSize:    v.GetInt64("upload.max_size"),
	}

	gdb, err := db.New(v.GetString("database.driver"), v.GetString("database.dsn"))
	if err != nil {
		return nil, err
	}
	d.DB = gdb
	d.Repo = repository.New(gdb)

	storageType := v.GetString("storage.type")
	needsRedis := storageType != "memory" || v.GetString("notify.driver") == "asynq"
	if needsRedis {
		d.Redis = vendorcfg.NewRedis(v.GetString("redis.addr"), v.GetString("redis.password"), v.GetInt("redis.db"))
	}

	d.Store, err = OpenStore(ctx, d.Repo, d.Redis)
	if err != nil {
		d.Close()
		return nil, err
	}

	d.Metrics, err = metrics.New(nil)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to register metrics, %w", err)
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	if v.GetString("notify.driver") == "asynq" {
		d.Queue = asynq.NewClientFromRedisClient(d.Redis)
		notifier = notify.NewAsynqNotifier(d.Queue, v.GetInt("notify.concurrency"))
	}

	d.JobQueue = service.NewJobQueue(v.GetInt("ffmpeg.workers"), v.GetInt("ffmpeg.max_jobs"), v.GetString("ffmpeg.path"))
	d.JobQueue.StartWorkerPool()

	noGrids := false
	if major, minor, err := service.Version(ctx, v.GetString("ffmpeg.path")); err != nil {
		zap.L().Warn("Unable to read the ffmpeg version", zap.Error(err))
	} else if !service.AssemblesTileGrids(major, minor) {
		zap.L().Warn("ffmpeg can't decode tiled HEIC images, HEIC uploads will be refused",
			zap.Int("major", major),
			zap.Int("minor", minor))
		noGrids = true
	}

	normalizer := media.NewNormalizer(d.JobQueue, service.NewProber(v.GetString("ffmpeg.ffprobe_path")), media.Options{
		WaveformSamples: v.GetInt("media.waveform_samples"),
		SVGMaxWidth:     v.GetInt("media.svg_max_width"),
		SVGMaxHeight:    v.GetInt("media.svg_max_height"),
		RasterMaxWidth:  v.GetInt("media.raster_max_width"),
		RasterMaxHeight: v.GetInt("media.raster_max_height"),
		AudioBitrate:    v.GetString("media.audio_bitrate"),
		TempDir:         v.GetString("media.temp_dir"),
		NoHEICGrids:     noGrids,
	})

	d.Linker = linker.New(d.Repo, notifier)
	d.Pipeline = ingest.New(
		normalizer,
		storage.NewAllocator(d.Store, time.Now, v.GetBool("upload.key_suffix")),
		storage.NewUploader(d.Store, v.GetInt("upload.chunk_size"), v.GetInt("upload.part_concurrency")),
		d.Store,
		d.Linker,
		ingest.Options{
			PresignTTL: d.PresignTTL,
			TempDir:    v.GetString("media.temp_dir"),
			Metrics:    d.Metrics,
		},
	)

	if lister, ok := d.Store.(storage.UploadLister); ok && v.GetBool("janitor.enabled") {
		d.Janitor = storage.NewJanitor(d.Store, lister, v.GetDuration("janitor.stale_after"),
			storage.PrefixAudioReactions, storage.PrefixChatAttachments)
	}

	return d, nil
}

// OpenStore resolves the credentials of the configured vendor and connects
// to its store. rdb may be nil when storage.type is memory.
func OpenStore(ctx context.Context, repo *repository.Repository, rdb *redis.Client) (storage.Store, error) {
	storageType := v.GetString("storage.type")

	var creds storage.Credentials
	if storageType != "memory" {
		var cache vendorcfg.Cache
		if rdb != nil {
			cache = rdb
		}

		resolver := vendorcfg.NewResolver(cache, repo, FallbackCredentials(), v.GetDuration("storage.vendor_cache_ttl"))

		var err error
		creds, err = resolver.Credentials(ctx, v.GetString("storage.vendor_tag"))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve storage credentials, %w", err)
		}
	}

	s, err := storage.New(ctx, storageType, creds, v.GetString("storage.public_base_url"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage, %w", storageType, err)
	}

	return s, nil
}

// FallbackCredentials are the static aws.* credentials used when no vendor
// config is stored.
func FallbackCredentials() storage.Credentials {
	return storage.Credentials{
		AccessKey: v.GetString("aws.access_key"),
		SecretKey: v.GetString("aws.secret_access_key"),
		Region:    v.GetString("aws.region"),
		Bucket:    v.GetString("aws.bucket"),
		Endpoint:  v.GetString("aws.endpoint"),
		AccountID: v.GetString("aws.account_id"),
		UseSSL:    v.GetBool("aws.use_ssl"),
	}
}

func (d *Deps) Close() {
	if d.Janitor != nil {
		d.Janitor.Stop()
	}

	if d.JobQueue != nil {
		d.JobQueue.Close()
	}

	if d.Linker != nil {
		d.Linker.Wait()
	}

	// The task queue shares this connection
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(err))
		}
	}

	if d.DB != nil {
		if sqlDB, err := d.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
