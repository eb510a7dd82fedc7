package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueRefusesWhenFull(t *testing.T) {
	q := NewJobQueue(1, 1, "ffmpeg")

	// No workers are started so the single slot stays taken
	job := &FFmpegJob{ID: "a", Args: []string{"-version"}, Ctx: context.Background(), Done: make(chan error, 1)}
	assert.NoError(t, q.Enqueue(job))

	err := q.Enqueue(&FFmpegJob{ID: "b", Args: []string{"-version"}, Ctx: context.Background(), Done: make(chan error, 1)})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestTranscodeHonorsContext(t *testing.T) {
	q := NewJobQueue(1, 1, "ffmpeg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.Transcode(ctx, []string{"-version"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRejectsEmptyArgs(t *testing.T) {
	q := NewJobQueue(1, 1, "ffmpeg")

	err := q.runFFmpegJob(&FFmpegJob{Ctx: context.Background()})
	assert.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		out   string
		major int
		minor int
		err   error
	}{
		{"ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023", 6, 1, nil},
		{"ffmpeg version n7.1 Copyright (c) 2000-2024", 7, 1, nil},
		{"ffmpeg version 7.0.2-static https://johnvansickle.com/ffmpeg/", 7, 0, nil},
		{"ffmpeg version N-113024-g0c2a2c6ff1 Copyright", 0, 0, ErrUnknownVersion},
	}

	for _, tt := range tests {
		major, minor, err := parseVersion([]byte(tt.out))
		assert.ErrorIs(t, err, tt.err, tt.out)
		assert.Equal(t, tt.major, major, tt.out)
		assert.Equal(t, tt.minor, minor, tt.out)
	}
}

func TestAssemblesTileGrids(t *testing.T) {
	assert.False(t, AssemblesTileGrids(6, 1))
	assert.False(t, AssemblesTileGrids(7, 0))
	assert.True(t, AssemblesTileGrids(7, 1))
	assert.True(t, AssemblesTileGrids(8, 0))
}
