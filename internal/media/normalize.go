package media

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"bitwise74/reactions-api/internal/apperr"
	"bitwise74/reactions-api/internal/service"

	"go.uber.org/zap"
)

// Transcoder runs ffmpeg with the given arguments. Stdout goes to out when
// it is not nil.
type Transcoder interface {
	Transcode(ctx context.Context, args []string, out io.Writer) error
}

type Prober interface {
	Probe(ctx context.Context, path string) (*service.ProbeResult, error)
}

type Options struct {
	WaveformSamples int
	SVGMaxWidth     int
	SVGMaxHeight    int
	RasterMaxWidth  int
	RasterMaxHeight int
	AudioBitrate    string
	// Empty means os.TempDir
	TempDir string
	// Set when ffmpeg would decode only the first tile of grid HEIC images
	NoHEICGrids bool
}

func (o *Options) setDefaults() {
	if o.WaveformSamples <= 0 {
		o.WaveformSamples = 40
	}
	if o.SVGMaxWidth <= 0 || o.SVGMaxHeight <= 0 {
		o.SVGMaxWidth, o.SVGMaxHeight = 800, 600
	}
	if o.RasterMaxWidth <= 0 || o.RasterMaxHeight <= 0 {
		o.RasterMaxWidth, o.RasterMaxHeight = 1024, 768
	}
	if o.AudioBitrate == "" {
		o.AudioBitrate = "128k"
	}
}

// Normalized is the canonical form of an upload, ready to be stored.
type Normalized struct {
	Path        string
	Ext         string
	ContentType string
	Size        int64
	// Seconds, only known for audio
	Duration float64
	Waveform []float64

	temps []string
}

// Close removes every temporary file the normalizer created. The source
// file of a pass-through upload is left alone.
func (n *Normalized) Close() error {
	var firstErr error
	for _, p := range n.temps {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	n.temps = nil

	return firstErr
}

type Normalizer struct {
	ffmpeg Transcoder
	probe  Prober
	opts   Options
}

func NewNormalizer(t Transcoder, p Prober, opts Options) *Normalizer {
	opts.setDefaults()

	return &Normalizer{
		ffmpeg: t,
		probe:  p,
		opts:   opts,
	}
}

// Normalize converts the file at src into its storage format. The caller
// owns src and must Close the result.
func (n *Normalizer) Normalize(ctx context.Context, src string, c Classified) (*Normalized, error) {
	switch c.Class {
	case Audio, RecordedAudio:
		return n.audio(ctx, src)
	case Image:
		switch c.Ext {
		case ".svg":
			return n.svg(src)
		case ".heic", ".heif":
			return n.heic(ctx, src)
		}
		return passthrough(src, c)
	case Video, Document:
		return passthrough(src, c)
	}

	return nil, apperr.New(apperr.ConversionError, "File conversion failed")
}

func passthrough(src string, c Classified) (*Normalized, error) {
	st, err := os.Stat(src)
	if err != nil {
		return nil, apperr.Wrap(apperr.ConversionError, "File conversion failed", err)
	}

	return &Normalized{
		Path:        src,
		Ext:         c.Ext,
		ContentType: c.MIME,
		Size:        st.Size(),
	}, nil
}

func (n *Normalizer) tempPath(out *Normalized, pattern string) (string, error) {
	f, err := os.CreateTemp(n.opts.TempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file, %w", err)
	}
	out.temps = append(out.temps, f.Name())

	return f.Name(), f.Close()
}

func (n *Normalizer) audio(ctx context.Context, src string) (res *Normalized, err error) {
	out := &Normalized{Ext: ".mp3", ContentType: "audio/mpeg"}
	defer func() {
		if err != nil {
			out.Close()
		}
	}()

	mp3, err := n.tempPath(out, "audio-*.mp3")
	if err != nil {
		return nil, apperr.Wrap(apperr.ConversionError, "File conversion failed", err)
	}

	args := []string{"-y", "-i", src, "-vn", "-c:a", "libmp3lame", "-b:a", n.opts.AudioBitrate, "-f", "mp3", mp3}
	if err := n.ffmpeg.Transcode(ctx, args, nil); err != nil {
		return nil, apperr.Wrap(apperr.ConversionError, "File conversion failed: unable to convert audio", err)
	}

	st, err := os.Stat(mp3)
	if err != nil {
		return nil, apperr.Wrap(apperr.ConversionError, "File conversion failed", err)
	}
	if st.Size() == 0 {
		return nil, apperr.New(apperr.ConversionError, "File conversion failed: audio output is empty")
	}

	out.Path = mp3
	out.Size = st.Size()

	// A missing waveform never fails the upload
	if err := n.waveform(ctx, out); err != nil {
		zap.L().Warn("Failed to derive waveform", zap.String("path", mp3), zap.Error(err))
		out.Waveform = nil
	}

	return out, nil
}

func (n *Normalizer) waveform(ctx context.Context, out *Normalized) error {
	info, err := n.probe.Probe(ctx, out.Path)
	if err != nil {
		return err
	}

	out.Duration = info.Duration
	if info.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", info.Channels)
	}

	raw, err := n.tempPath(out, "pcm-*.raw")
	if err != nil {
		return err
	}

	f, err := os.OpenFile(raw, os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open pcm file, %w", err)
	}
	defer f.Close()

	args := []string{"-i", out.Path, "-f", "s16le", "-acodec", "pcm_s16le", "-ac", strconv.Itoa(info.Channels), "pipe:1"}
	if err := n.ffmpeg.Transcode(ctx, args, f); err != nil {
		return fmt.Errorf("failed to decode pcm, %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		return err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	frames := st.Size() / int64(2*info.Channels)
	wf, err := Waveform(bufio.NewReader(f), frames, info.Channels, n.opts.WaveformSamples)
	if err != nil {
		return err
	}

	out.Waveform = wf
	return nil
}
