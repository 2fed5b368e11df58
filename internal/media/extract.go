package media

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RecognitionSampleRate is the sample rate of extracted recognition audio.
const RecognitionSampleRate = 16000

// ExtractAudio writes one audio stream of source to dest as mono 16 kHz
// pcm_s16le WAV.
func ExtractAudio(ctx context.Context, ffmpegBinary, source string, audioIndex int, dest string) error {
	if audioIndex < 0 {
		return fmt.Errorf("extract audio: invalid audio track index %d", audioIndex)
	}
	cmd := exec.CommandContext(ctx, ffmpegBinary, extractArgs(source, audioIndex, dest)...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg extract: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func extractArgs(source string, audioIndex int, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", source,
		"-map", fmt.Sprintf("0:%d", audioIndex),
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", fmt.Sprint(RecognitionSampleRate),
		"-c:a", "pcm_s16le",
		dest,
	}
}
