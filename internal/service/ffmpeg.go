// Package service wraps the external binaries the ingestion pipeline shells
// out to.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"bitwise74/reactions-api/pkg/util"

	"go.uber.org/zap"
)

var (
	ErrQueueFull      = errors.New("job queue full")
	ErrUnknownVersion = errors.New("ffmpeg reported no release version")
)

var versionPattern = regexp.MustCompile(`ffmpeg version n?(\d+)\.(\d+)`)

type FFmpegJob struct {
	ID     string
	Args   []string
	Output io.Writer
	Ctx    context.Context
	Done   chan error
}

// JobQueue limits how many ffmpeg processes run at once. Jobs beyond the
// queue capacity are refused instead of piling up.
type JobQueue struct {
	jobs    chan *FFmpegJob
	running atomic.Int32
	workers int
	binary  string
}

// NewJobQueue initializes a new job queue that accepts at most maxJobs
// waiting jobs
func NewJobQueue(workers, maxJobs int, binary string) *JobQueue {
	if workers <= 0 {
		workers = 1
	}

	if binary == "" {
		binary = "ffmpeg"
	}

	zap.L().Debug("Initializing job queue", zap.Int("workers", workers), zap.Int("max_jobs", maxJobs))

	return &JobQueue{
		jobs:    make(chan *FFmpegJob, max(maxJobs, 0)),
		workers: workers,
		binary:  binary,
	}
}

func (q *JobQueue) StartWorkerPool() {
	for range q.workers {
		go q.worker()
	}
}

// Close stops the workers once the queued jobs are drained.
func (q *JobQueue) Close() {
	close(q.jobs)
}

func (q *JobQueue) worker() {
	for job := range q.jobs {
		err := q.runFFmpegJob(job)

		job.Done <- err
		close(job.Done)

		q.running.Add(-1)

		if err != nil {
			zap.L().Error("FFmpeg job finished with an error",
				zap.String("job_id", job.ID),
				zap.Error(err))
		} else {
			zap.L().Debug("FFmpeg job finished successfully", zap.String("job_id", job.ID))
		}
	}
}

func (q *JobQueue) Enqueue(job *FFmpegJob) error {
	select {
	case q.jobs <- job:
		q.running.Add(1)
		zap.L().Debug("New ffmpeg job enqueued", zap.Int32("enqueued", q.running.Load()), zap.String("job_id", job.ID))
		return nil
	default:
		return ErrQueueFull
	}
}

// Transcode runs ffmpeg with args through the queue and waits for it to
// finish. Anything ffmpeg writes to stdout is copied into out, which may be
// nil when the output goes to a file.
func (q *JobQueue) Transcode(ctx context.Context, args []string, out io.Writer) error {
	done := make(chan error, 1)

	err := q.Enqueue(&FFmpegJob{
		ID:     util.RandStr(8),
		Args:   args,
		Output: out,
		Ctx:    ctx,
		Done:   done,
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *JobQueue) runFFmpegJob(job *FFmpegJob) error {
	if len(job.Args) == 0 {
		return errors.New("no arguments provided")
	}

	if err := job.Ctx.Err(); err != nil {
		return err
	}

	args := append([]string{"-hide_banner", "-nostdin", "-loglevel", "error"}, job.Args...)
	cmd := exec.CommandContext(job.Ctx, q.binary, args...)

	zap.L().Debug("Running FFmpeg command", zap.String("cmd", cmd.String()))

	stderrBuf := &bytes.Buffer{}
	cmd.Stderr = stderrBuf

	output := job.Output
	if output == nil {
		output = io.Discard
	}
	cmd.Stdout = output

	if err := cmd.Run(); err != nil {
		zap.L().Error("FFmpeg failed", zap.Error(err), zap.String("stderr", stderrBuf.String()))
		return fmt.Errorf("ffmpeg failed, %w (%s)", err, strings.TrimSpace(stderrBuf.String()))
	}

	return nil
}

// Version returns the release of the ffmpeg binary. Builds from git carry no
// release and return ErrUnknownVersion.
func Version(ctx context.Context, binary string) (major, minor int, err error) {
	if binary == "" {
		binary = "ffmpeg"
	}

	out, err := exec.CommandContext(ctx, binary, "-hide_banner", "-version").Output()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to run %s -version, %w", binary, err)
	}

	return parseVersion(out)
}

func parseVersion(out []byte) (int, int, error) {
	m := versionPattern.FindSubmatch(out)
	if m == nil {
		return 0, 0, ErrUnknownVersion
	}

	major, _ := strconv.Atoi(string(m[1]))
	minor, _ := strconv.Atoi(string(m[2]))

	return major, minor, nil
}

// AssemblesTileGrids reports whether ffmpeg major.minor joins the tiles of
// grid HEIF images, like the ones taken by phones, into one picture.
func AssemblesTileGrids(major, minor int) bool {
	return major > 7 || (major == 7 && minor >= 1)
}
