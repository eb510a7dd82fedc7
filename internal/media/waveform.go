package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const waveformBlockFrames = 4096

// Waveform reduces interleaved signed 16-bit little endian PCM into n
// amplitude points in [0, 1]. Channels are averaged into mono, every point is
// the mean absolute amplitude of its chunk and the loudest point is 1.0.
//
// frames is the number of sample frames r yields. Inputs shorter than n
// frames get one frame per point and the rest padded with zeros.
func Waveform(r io.Reader, frames int64, channels, n int) ([]float64, error) {
	if n <= 0 {
		return nil, errors.New("sample count must be positive")
	}

	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}

	out := make([]float64, n)
	if frames <= 0 {
		return out, nil
	}

	sums := make([]float64, n)
	counts := make([]int64, n)
	frameSize := 2 * channels
	buf := make([]byte, frameSize*waveformBlockFrames)

	var i int64
	for i < frames {
		want := min(frames-i, waveformBlockFrames)
		block := buf[:want*int64(frameSize)]
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, fmt.Errorf("failed to read pcm frames, %w", err)
		}

		for off := 0; off < len(block); off += frameSize {
			var acc float64
			for c := range channels {
				acc += float64(int16(binary.LittleEndian.Uint16(block[off+2*c:])))
			}

			bucket := i
			if frames >= int64(n) {
				bucket = i * int64(n) / frames
			}

			sums[bucket] += math.Abs(acc / float64(channels))
			counts[bucket]++
			i++
		}
	}

	peak := 0.0
	for j := range sums {
		if counts[j] > 0 {
			sums[j] /= float64(counts[j])
		}
		peak = max(peak, sums[j])
	}

	if peak == 0 {
		peak = 1
	}

	for j, v := range sums {
		out[j] = math.Round(v/peak*100) / 100
	}

	return out, nil
}
