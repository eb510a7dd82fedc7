package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ProbeResult holds the parts of ffprobe's report the pipeline cares about.
type ProbeResult struct {
	Channels int
	Duration float64
}

type Prober struct {
	binary  string
	timeout time.Duration
}

func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}

	return &Prober{binary: binary, timeout: time.Minute}
}

type probeOutput struct {
	Streams []struct {
		Channels int `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the channel count of the first audio stream and the container
// duration of the file at p.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	zap.L().Debug("Running FFprobe", zap.String("path", path))

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=channels:format=duration",
		"-of", "json",
		"-i", path,
	)

	var stdOut, stdErr bytes.Buffer
	cmd.Stdout = &stdOut
	cmd.Stderr = &stdErr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed, %w (%s)", err, stdErr.String())
	}

	return parseProbe(stdOut.Bytes())
}

func parseProbe(b []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("malformed ffprobe output, %w", err)
	}

	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("no audio stream found")
	}

	res := &ProbeResult{Channels: out.Streams[0].Channels}

	if d := strings.TrimSpace(out.Format.Duration); d != "" && d != "N/A" {
		dur, err := strconv.ParseFloat(d, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed duration, %w", err)
		}
		res.Duration = dur
	}

	return res, nil
}
