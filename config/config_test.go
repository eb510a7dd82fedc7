package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))

	return p
}

func TestSetupDefaults(t *testing.T) {
	v.Reset()
	t.Cleanup(v.Reset)

	p := writeConfig(t, `
[jwt]
secret = "test-secret"

[storage]
type = "memory"
`)

	require.NoError(t, Setup(p, nil))

	assert.Equal(t, int64(100<<20), v.GetInt64("upload.max_size"))
	assert.Equal(t, 5<<20, v.GetInt("upload.chunk_size"))
	assert.Equal(t, 40, v.GetInt("media.waveform_samples"))
	assert.Equal(t, time.Hour, v.GetDuration("storage.presign_ttl"))
	assert.Equal(t, "aws_s3", v.GetString("storage.vendor_tag"))
	assert.Equal(t, "@every 1h", v.GetString("janitor.schedule"))
}

func TestSetupValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing jwt secret", `[storage]
type = "memory"`},
		{"bad log level", `[app]
log_level = "loud"
[jwt]
secret = "s"`},
		{"unknown storage", `[jwt]
secret = "s"
[storage]
type = "ftp"`},
		{"small chunks on s3", `[jwt]
secret = "s"
[upload]
chunk_size = 1024`},
		{"bad notify driver", `[jwt]
secret = "s"
[storage]
type = "memory"
[notify]
driver = "carrier-pigeon"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v.Reset()
			t.Cleanup(v.Reset)

			assert.Error(t, Setup(writeConfig(t, tt.body), nil))
		})
	}
}

func TestSetupMissingFile(t *testing.T) {
	v.Reset()
	t.Cleanup(v.Reset)

	assert.Error(t, Setup(filepath.Join(t.TempDir(), "nope.toml"), nil))
}

func TestSetupFlagsOverride(t *testing.T) {
	v.Reset()
	t.Cleanup(v.Reset)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--port", "9090", "--log-level", "debug"}))

	p := writeConfig(t, `
[host]
port = 8000

[jwt]
secret = "s"

[storage]
type = "memory"
`)

	require.NoError(t, Setup(p, flags))
	assert.Equal(t, 9090, v.GetInt("host.port"))
	assert.Equal(t, "debug", v.GetString("app.log_level"))
}
