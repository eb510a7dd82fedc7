package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"bitwise74/reactions-api/internal/apperr"
	"bitwise74/reactions-api/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFFmpeg fakes the ffmpeg binary. Calls that end in "pipe:1" get PCM on
// stdout, every other call writes its output file.
type stubFFmpeg struct {
	calls   [][]string
	pcm     []byte
	file    func(path string) error
	failure error
}

func (s *stubFFmpeg) Transcode(_ context.Context, args []string, out io.Writer) error {
	s.calls = append(s.calls, args)
	if s.failure != nil {
		return s.failure
	}

	last := args[len(args)-1]
	if last == "pipe:1" {
		_, err := out.Write(s.pcm)
		return err
	}

	if s.file != nil {
		return s.file(last)
	}

	return os.WriteFile(last, []byte("ID3\x03fake mp3 payload"), 0o600)
}

type stubProber struct {
	res *service.ProbeResult
	err error
}

func (s *stubProber) Probe(context.Context, string) (*service.ProbeResult, error) {
	return s.res, s.err
}

func monoPCM(frames int) []byte {
	buf := new(bytes.Buffer)
	for i := range frames {
		_ = binary.Write(buf, binary.LittleEndian, int16(i%1000))
	}

	return buf.Bytes()
}

func writeSource(t *testing.T, name string, b []byte) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, b, 0o600))

	return p
}

func TestNormalizeAudio(t *testing.T) {
	tmp := t.TempDir()
	ff := &stubFFmpeg{pcm: monoPCM(8000)}
	n := NewNormalizer(ff, &stubProber{res: &service.ProbeResult{Channels: 1, Duration: 2.5}}, Options{TempDir: tmp})

	src := writeSource(t, "voice.m4a", m4aBytes)
	out, err := n.Normalize(context.Background(), src, Classified{Class: RecordedAudio, Ext: ".m4a", MIME: "audio/x-m4a"})
	require.NoError(t, err)

	assert.Equal(t, ".mp3", out.Ext)
	assert.Equal(t, "audio/mpeg", out.ContentType)
	assert.Equal(t, 2.5, out.Duration)
	assert.NotZero(t, out.Size)
	require.Len(t, out.Waveform, 40)
	assert.Contains(t, out.Waveform, 1.0)

	require.Len(t, ff.calls, 2)
	assert.Contains(t, ff.calls[0], "libmp3lame")
	assert.Contains(t, ff.calls[1], "pcm_s16le")

	require.NoError(t, out.Close())
	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = os.Stat(src)
	assert.NoError(t, err, "source must be left for the caller")
}

func TestNormalizeAudioTranscodeFailure(t *testing.T) {
	tmp := t.TempDir()
	n := NewNormalizer(&stubFFmpeg{failure: errors.New("exit status 1")}, &stubProber{}, Options{TempDir: tmp})

	src := writeSource(t, "song.wav", []byte("RIFF"))
	out, err := n.Normalize(context.Background(), src, Classified{Class: Audio, Ext: ".wav"})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, apperr.ConversionError, apperr.KindOf(err))

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNormalizeAudioWithoutWaveform(t *testing.T) {
	n := NewNormalizer(&stubFFmpeg{}, &stubProber{err: errors.New("ffprobe missing")}, Options{TempDir: t.TempDir()})

	src := writeSource(t, "song.mp3", []byte("ID3"))
	out, err := n.Normalize(context.Background(), src, Classified{Class: Audio, Ext: ".mp3"})
	require.NoError(t, err)
	defer out.Close()

	assert.Nil(t, out.Waveform)
	assert.Equal(t, "audio/mpeg", out.ContentType)
}

func TestNormalizeSVG(t *testing.T) {
	tests := []struct {
		name   string
		svg    []byte
		width  int
		height int
	}{
		{"viewbox and size", svgBytes, 800, 400},
		{"relative size", []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="100%" height="100%" viewBox="0 0 300 150"><rect width="300" height="150" fill="#0f0"/></svg>`), 800, 400},
		{"size without viewbox", []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="100" height="50"><rect width="100" height="50"/></svg>`), 800, 400},
		{"comma separated viewbox", []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg" width="50%" viewBox="0,0,60,60"><circle cx="30" cy="30" r="20"/></svg>`), 600, 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNormalizer(&stubFFmpeg{}, &stubProber{}, Options{TempDir: t.TempDir()})

			src := writeSource(t, "logo.svg", tt.svg)
			out, err := n.Normalize(context.Background(), src, Classified{Class: Image, Ext: ".svg", MIME: "image/svg+xml"})
			require.NoError(t, err)
			defer out.Close()

			assert.Equal(t, ".png", out.Ext)
			assert.Equal(t, "image/png", out.ContentType)

			f, err := os.Open(out.Path)
			require.NoError(t, err)
			defer f.Close()

			cfg, err := png.DecodeConfig(f)
			require.NoError(t, err)
			assert.Equal(t, tt.width, cfg.Width)
			assert.Equal(t, tt.height, cfg.Height)
		})
	}
}

func TestRootBox(t *testing.T) {
	x, y, w, h := rootBox([]byte(`<svg viewBox="10 20 300 150" width="100%"/>`))
	assert.Equal(t, []float64{10, 20, 300, 150}, []float64{x, y, w, h})

	_, _, w, h = rootBox([]byte(`<svg width="100%" height="100%"/>`))
	assert.Zero(t, w)
	assert.Zero(t, h)

	_, _, w, _ = rootBox([]byte(`<html><svg viewBox="0 0 1 1"/></html>`))
	assert.Zero(t, w)
}

func TestNormalizeBrokenSVG(t *testing.T) {
	n := NewNormalizer(&stubFFmpeg{}, &stubProber{}, Options{TempDir: t.TempDir()})

	src := writeSource(t, "logo.svg", []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))
	_, err := n.Normalize(context.Background(), src, Classified{Class: Image, Ext: ".svg"})
	require.Error(t, err)
	assert.Equal(t, apperr.ConversionError, apperr.KindOf(err))
}

func TestNormalizeHEIC(t *testing.T) {
	ff := &stubFFmpeg{file: func(p string) error {
		img := image.NewRGBA(image.Rect(0, 0, 2000, 1000))
		img.Set(10, 10, color.White)

		f, err := os.Create(p)
		if err != nil {
			return err
		}
		defer f.Close()

		return png.Encode(f, img)
	}}
	n := NewNormalizer(ff, &stubProber{}, Options{TempDir: t.TempDir()})

	src := writeSource(t, "photo.heic", []byte("\x00\x00\x00\x18ftypheic"))
	out, err := n.Normalize(context.Background(), src, Classified{Class: Image, Ext: ".heic", MIME: "image/heic"})
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, "image/png", out.ContentType)

	f, err := os.Open(out.Path)
	require.NoError(t, err)
	defer f.Close()

	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Width)
	assert.Equal(t, 512, cfg.Height)
}

func TestNormalizeHEICWithOldFFmpeg(t *testing.T) {
	ff := &stubFFmpeg{}
	n := NewNormalizer(ff, &stubProber{}, Options{TempDir: t.TempDir(), NoHEICGrids: true})

	src := writeSource(t, "photo.heic", []byte("\x00\x00\x00\x18ftypheic"))
	_, err := n.Normalize(context.Background(), src, Classified{Class: Image, Ext: ".heic", MIME: "image/heic"})
	require.Error(t, err)
	assert.Equal(t, apperr.ConversionError, apperr.KindOf(err))
	assert.Empty(t, ff.calls)
}

func TestNormalizePassthrough(t *testing.T) {
	ff := &stubFFmpeg{}
	n := NewNormalizer(ff, &stubProber{}, Options{TempDir: t.TempDir()})

	src := writeSource(t, "report.pdf", pdfBytes)
	out, err := n.Normalize(context.Background(), src, Classified{Class: Document, Ext: ".pdf", MIME: "application/pdf"})
	require.NoError(t, err)

	assert.Equal(t, src, out.Path)
	assert.Equal(t, "application/pdf", out.ContentType)
	assert.Equal(t, int64(len(pdfBytes)), out.Size)
	assert.Empty(t, ff.calls)

	require.NoError(t, out.Close())
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestNormalizeRejected(t *testing.T) {
	n := NewNormalizer(&stubFFmpeg{}, &stubProber{}, Options{})

	_, err := n.Normalize(context.Background(), "unused", Classified{})
	assert.Equal(t, apperr.ConversionError, apperr.KindOf(err))
}

func TestFitInto(t *testing.T) {
	w, h := fitInto(100, 50, 800, 600)
	assert.Equal(t, []int{800, 400}, []int{w, h})

	w, h = fitInto(3000, 3000, 800, 600)
	assert.Equal(t, []int{600, 600}, []int{w, h})

	w, h = fitInto(0, 10, 800, 600)
	assert.Zero(t, w)
	assert.Zero(t, h)
}
