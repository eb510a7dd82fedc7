// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
)

var (
	validLogLevels     = []string{"debug", "info", "warn", "error", "fatal"}
	validStorageTypes  = []string{"s3", "r2", "minio", "memory"}
	validDBDrivers     = []string{"sqlite", "postgres"}
	validNotifyDrivers = []string{"asynq", "log"}
)

const minPartSize = 5 << 20

// flagKeys maps config keys to the command line flags that override them
var flagKeys = map[string]string{
	"app.log_level": "log-level",
	"host.port":     "port",
	"storage.type":  "storage",
}

func genSecret() string {
	b := make([]byte, 64)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that. An empty path looks for config.toml in the working directory.
func Setup(path string, flags *pflag.FlagSet) error {
	if flags != nil {
		for key, name := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}

			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag %s, %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	//
	// ENVS
	//
	v.BindEnv("app.log_level", "app_log_level")
	v.BindEnv("app.log_file", "app_log_file")

	v.BindEnv("host.port", "host_port")
	v.BindEnv("host.cors", "host_cors")

	v.BindEnv("database.driver", "database_driver")
	v.BindEnv("database.dsn", "database_dsn")

	v.BindEnv("redis.addr", "redis_addr")
	v.BindEnv("redis.password", "redis_password")
	v.BindEnv("redis.db", "redis_db")

	v.BindEnv("jwt.secret", "jwt_secret")
	v.BindEnv("security.rate_limit", "security_rate_limit")

	v.BindEnv("storage.type", "storage_type")
	v.BindEnv("storage.vendor_tag", "storage_vendor_tag")
	v.BindEnv("storage.presign_ttl", "storage_presign_ttl")
	v.BindEnv("storage.public_base_url", "storage_public_base_url")

	v.BindEnv("aws.access_key", "aws_access_key")
	v.BindEnv("aws.secret_access_key", "aws_secret_access_key")
	v.BindEnv("aws.region", "aws_region")
	v.BindEnv("aws.bucket", "aws_bucket")
	v.BindEnv("aws.endpoint", "aws_endpoint")
	v.BindEnv("aws.account_id", "aws_account_id")

	v.BindEnv("upload.max_size", "upload_max_size")
	v.BindEnv("upload.chunk_size", "upload_chunk_size")
	v.BindEnv("upload.part_concurrency", "upload_part_concurrency")

	v.BindEnv("ffmpeg.path", "ffmpeg_path")
	v.BindEnv("ffmpeg.ffprobe_path", "ffmpeg_ffprobe_path")

	v.BindEnv("notify.driver", "notify_driver")

	//
	// Defaults
	//
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.cors", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "database.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.rate_limit", 5)

	v.SetDefault("storage.type", "s3")
	v.SetDefault("storage.vendor_tag", "aws_s3")
	v.SetDefault("storage.presign_ttl", "1h")
	v.SetDefault("storage.vendor_cache_ttl", "0s")

	v.SetDefault("upload.max_size", 100)
	v.SetDefault("upload.chunk_size", minPartSize)
	v.SetDefault("upload.part_concurrency", 1)
	v.SetDefault("upload.key_suffix", false)

	v.SetDefault("media.waveform_samples", 40)
	v.SetDefault("media.svg_max_width", 800)
	v.SetDefault("media.svg_max_height", 600)
	v.SetDefault("media.raster_max_width", 1024)
	v.SetDefault("media.raster_max_height", 768)
	v.SetDefault("media.audio_bitrate", "128k")

	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_path", "ffprobe")
	v.SetDefault("ffmpeg.workers", 2)
	v.SetDefault("ffmpeg.max_jobs", 32)

	v.SetDefault("notify.driver", "asynq")
	v.SetDefault("notify.concurrency", 10)

	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.schedule", "@every 1h")
	v.SetDefault("janitor.stale_after", "24h")

	if err := v.ReadInConfig(); err != nil {
		var notFound v.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return errors.New("config.toml file is missing")
		}

		return fmt.Errorf("failed to read config file, %w", err)
	}

	return validate()
}

func validate() error {
	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if v.GetInt("host.port") <= 0 {
		return errors.New("invalid port provided")
	}

	if !slices.Contains(validDBDrivers, v.GetString("database.driver")) {
		return errors.New("invalid database driver provided")
	}

	if v.GetString("jwt.secret") == "" {
		return fmt.Errorf("no JWT secret set, paste this one into your config.toml file:\n\n%s", genSecret())
	}

	storageType := v.GetString("storage.type")
	if !slices.Contains(validStorageTypes, storageType) {
		return errors.New("invalid storage type provided")
	}

	if storageType != "memory" && v.GetString("storage.vendor_tag") == "" && v.GetString("aws.bucket") == "" {
		return errors.New("no storage credentials, set storage.vendor_tag or aws.bucket")
	}

	if v.GetDuration("storage.presign_ttl") <= 0 {
		return errors.New("storage.presign_ttl must be bigger than 0")
	}

	if v.GetInt("upload.max_size") <= 0 {
		return errors.New("upload.max_size must be bigger than 0")
	}

	// Every part but the last must be at least 5 MiB on S3 compatible stores
	if storageType != "memory" && v.GetInt("upload.chunk_size") < minPartSize {
		return errors.New("upload.chunk_size must be at least 5 MiB")
	}

	if v.GetInt("upload.part_concurrency") <= 0 {
		return errors.New("upload.part_concurrency must be bigger than 0")
	}

	if v.GetInt("media.waveform_samples") <= 0 {
		return errors.New("media.waveform_samples must be bigger than 0")
	}

	if v.GetInt("ffmpeg.workers") <= 0 {
		return errors.New("ffmpeg.workers must be bigger than 0")
	}

	if !slices.Contains(validNotifyDrivers, v.GetString("notify.driver")) {
		return errors.New("invalid notify driver provided")
	}

	if v.GetBool("janitor.enabled") && v.GetDuration("janitor.stale_after") <= 0 {
		return errors.New("janitor.stale_after must be bigger than 0")
	}

	v.Set("upload.max_size", v.GetInt64("upload.max_size")<<20)
	return nil
}
