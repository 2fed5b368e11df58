package encoding

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// MuxJob describes the final pass over a written picture stream.
type MuxJob struct {
	VideoPath  string
	AudioPath  string
	AudioIndex int
	OutputPath string
	// TimeScale multiplies picture timestamps; it corrects a writer that
	// stored a rounded frame rate. 1 leaves them untouched.
	TimeScale float64
}

// MuxFunc writes job.OutputPath.
type MuxFunc func(ctx context.Context, job MuxJob) error

// FFmpegMuxer runs binary to copy the picture stream and add a single AAC
// audio track. Only the selected audio stream is mapped.
func FFmpegMuxer(binary string) MuxFunc {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return func(ctx context.Context, job MuxJob) error {
		if strings.TrimSpace(job.VideoPath) == "" || strings.TrimSpace(job.OutputPath) == "" {
			return errors.New("mux: video and output paths are required")
		}
		cmd := exec.CommandContext(ctx, binary, muxArgs(job)...) //nolint:gosec
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("ffmpeg mux: %w: %s", err, strings.TrimSpace(string(output)))
		}
		return nil
	}
}

func muxArgs(job MuxJob) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-nostdin"}
	if job.TimeScale > 0 && job.TimeScale != 1 {
		args = append(args, "-itsscale", strconv.FormatFloat(job.TimeScale, 'f', 9, 64))
	}
	args = append(args, "-i", job.VideoPath)
	if job.AudioPath != "" {
		args = append(args, "-i", job.AudioPath)
	}
	args = append(args, "-map", "0:v:0", "-c:v", "copy")
	if job.AudioPath != "" {
		index := job.AudioIndex
		if index < 0 {
			index = 0
		}
		args = append(args,
			"-map", fmt.Sprintf("1:%d", index),
			"-c:a", "aac",
			"-b:a", "192k",
			"-shortest",
		)
	}
	args = append(args, "-sn", "-dn", job.OutputPath)
	return args
}
