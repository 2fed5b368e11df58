// Package espeak renders speech with espeak-ng and converts it to raw PCM
// with ffmpeg.
package espeak

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Default command names and speaking speed.
const (
	DefaultBinary         = "espeak-ng"
	DefaultFFmpeg         = "ffmpeg"
	DefaultWordsPerMinute = 170
	DefaultSampleRate     = 22050
	minWordsPerMinute     = 80
	maxWordsPerMinute     = 450
)

// ErrUnavailable indicates espeak-ng or ffmpeg could not be started.
var ErrUnavailable = errors.New("espeak unavailable")

// Config captures runtime settings for speech synthesis.
type Config struct {
	Binary         string
	FFmpegBinary   string
	SampleRate     int
	WordsPerMinute int
}

// CommandRunner executes name with stdin and returns its stdout.
type CommandRunner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// Service speaks text.
type Service struct {
	cfg    Config
	runner CommandRunner
}

// NewService creates a speech service, filling unset config fields.
func NewService(cfg Config) *Service {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = DefaultBinary
	}
	if strings.TrimSpace(cfg.FFmpegBinary) == "" {
		cfg.FFmpegBinary = DefaultFFmpeg
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = DefaultWordsPerMinute
	}
	return &Service{cfg: cfg, runner: execRunner}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner CommandRunner) {
	s.runner = runner
}

// SampleRate reports the rate of the PCM Speak returns.
func (s *Service) SampleRate() int {
	return s.cfg.SampleRate
}

// Speak renders text with the given espeak-ng voice. rate scales the
// configured words per minute. The result is mono signed 16-bit PCM at
// SampleRate.
func (s *Service) Speak(ctx context.Context, text, voice string, rate float64) ([]int16, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	wav, err := s.runner(ctx, nil, s.cfg.Binary, s.espeakArgs(text, voice, rate)...)
	if err != nil {
		return nil, s.commandError(ctx, s.cfg.Binary, err)
	}
	pcm, err := s.runner(ctx, wav, s.cfg.FFmpegBinary, s.ffmpegArgs()...)
	if err != nil {
		return nil, s.commandError(ctx, s.cfg.FFmpegBinary, err)
	}
	return DecodePCM(pcm), nil
}

func (s *Service) espeakArgs(text, voice string, rate float64) []string {
	if rate <= 0 || math.IsNaN(rate) {
		rate = 1
	}
	wpm := int(math.Round(float64(s.cfg.WordsPerMinute) * rate))
	wpm = max(minWordsPerMinute, min(maxWordsPerMinute, wpm))
	args := []string{"--stdout", "-s", strconv.Itoa(wpm)}
	if voice = strings.TrimSpace(voice); voice != "" {
		args = append(args, "-v", voice)
	}
	// "--" keeps text beginning with a dash from being read as a flag.
	return append(args, "--", text)
}

func (s *Service) ffmpegArgs() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "wav", "-i", "pipe:0",
		"-ac", "1",
		"-ar", strconv.Itoa(s.cfg.SampleRate),
		"-f", "s16le", "-acodec", "pcm_s16le",
		"pipe:1",
	}
}

func (s *Service) commandError(ctx context.Context, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, name, err)
	}
	return fmt.Errorf("%s: %w", name, err)
}

// DecodePCM interprets little-endian s16 bytes. A trailing odd byte is ignored.
func DecodePCM(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
