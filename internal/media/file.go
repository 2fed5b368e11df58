package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"overdub/internal/language"
	"overdub/internal/logging"
	"overdub/internal/media/ffprobe"
	"overdub/internal/services"
)

// ProbeFunc inspects a staged file. ffprobe.Inspect is the production probe.
type ProbeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Options configures how sources are staged and decoded.
type Options struct {
	StagingDir    string
	FFmpegBinary  string
	FFprobeBinary string
	Probe         ProbeFunc
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.FFmpegBinary) == "" {
		o.FFmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(o.FFprobeBinary) == "" {
		o.FFprobeBinary = "ffprobe"
	}
	if o.Probe == nil {
		o.Probe = ffprobe.Inspect
	}
	if o.StagingDir == "" {
		o.StagingDir = os.TempDir()
	}
	o.Logger = logging.NewComponentLogger(o.Logger, "media")
	return o
}

// File is a Source backed by a staged container and ffmpeg subprocesses.
type File struct {
	handle  Handle
	opts    Options
	workDir string
	owned   []string

	audioMu   sync.Mutex
	audio     *AudioStream
	closeOnce sync.Once
}

var _ Source = (*File)(nil)

// Open sniffs, stages, and probes caller-supplied bytes.
func Open(ctx context.Context, data []byte, opts Options) (*File, error) {
	opts = opts.withDefaults()
	if len(data) == 0 {
		return nil, inputError("open", "empty input", ErrCorruptData)
	}
	mime := mimetype.Detect(data)
	if !isVideoMIME(mime) {
		return nil, inputError("open", fmt.Sprintf("detected %s", mime.String()), ErrUnsupportedFormat)
	}

	if err := os.MkdirAll(opts.StagingDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrResource, "media", "stage", "create staging dir", err)
	}
	workDir, err := os.MkdirTemp(opts.StagingDir, "overdub-src-")
	if err != nil {
		return nil, services.Wrap(services.ErrResource, "media", "stage", "create work dir", err)
	}
	path := filepath.Join(workDir, "source"+mime.Extension())
	if err := os.WriteFile(path, data, 0o600); err != nil {
		_ = os.RemoveAll(workDir)
		return nil, services.Wrap(services.ErrResource, "media", "stage", "write source", err)
	}

	file, err := probeFile(ctx, path, mime.String(), workDir, opts)
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, err
	}
	file.owned = append(file.owned, workDir)
	return file, nil
}

// OpenFile probes a local file the caller already owns. Close removes only
// derived files, never the source itself.
func OpenFile(ctx context.Context, path string, opts Options) (*File, error) {
	opts = opts.withDefaults()
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, inputError("open", "read source", errors.Join(ErrCorruptData, err))
	}
	if !isVideoMIME(mime) {
		return nil, inputError("open", fmt.Sprintf("detected %s", mime.String()), ErrUnsupportedFormat)
	}
	if err := os.MkdirAll(opts.StagingDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrResource, "media", "stage", "create staging dir", err)
	}
	workDir, err := os.MkdirTemp(opts.StagingDir, "overdub-src-")
	if err != nil {
		return nil, services.Wrap(services.ErrResource, "media", "stage", "create work dir", err)
	}
	file, err := probeFile(ctx, path, mime.String(), workDir, opts)
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, err
	}
	file.owned = append(file.owned, workDir)
	return file, nil
}

func probeFile(ctx context.Context, path, mime, workDir string, opts Options) (*File, error) {
	result, err := opts.Probe(ctx, opts.FFprobeBinary, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrCancelled, "media", "probe", "", ctx.Err())
		}
		return nil, inputError("probe", err.Error(), ErrCorruptData)
	}
	video, ok := result.PrimaryVideo()
	if !ok {
		return nil, inputError("probe", "no video stream", ErrUnsupportedFormat)
	}
	handle := Handle{
		Duration: result.DurationSeconds(),
		FPS:      video.FrameRate(),
		Width:    video.Width,
		Height:   video.Height,
		Format:   result.Format.FormatName,
		MIME:     mime,
		Path:     path,
	}
	if handle.Width <= 0 || handle.Height <= 0 {
		return nil, inputError("probe", fmt.Sprintf("invalid dimensions %dx%d", handle.Width, handle.Height), ErrCorruptData)
	}
	if handle.FPS <= 0 {
		return nil, inputError("probe", "missing frame rate", ErrCorruptData)
	}
	if handle.Duration <= 0 {
		return nil, inputError("probe", "missing duration", ErrCorruptData)
	}
	if audio, ok := result.PrimaryAudio(); ok {
		handle.HasAudio = true
		handle.AudioIndex = audio.Index
		handle.AudioLanguage = language.ExtractFromTags(audio.Tags)
	}
	opts.Logger.Debug("source probed",
		logging.String("format", handle.Format),
		logging.Float64("duration_seconds", handle.Duration),
		logging.Float64("fps", handle.FPS),
		logging.Int("width", handle.Width),
		logging.Int("height", handle.Height),
		logging.Bool("has_audio", handle.HasAudio),
	)
	return &File{handle: handle, opts: opts, workDir: workDir}, nil
}

func isVideoMIME(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}

func inputError(operation, message string, cause error) error {
	return services.Wrap(services.ErrInput, "media", operation, message, cause)
}

// Handle returns the immutable probe result.
func (f *File) Handle() Handle {
	return f.handle
}

// FrameAt decodes the frame visible at t with an accurate seek, so repeated
// calls with the same t return identical pixels.
func (f *File) FrameAt(ctx context.Context, t float64) (Frame, error) {
	if t < 0 || t >= f.handle.Duration {
		return Frame{}, inputError("seek", fmt.Sprintf("t=%.3f outside [0, %.3f)", t, f.handle.Duration), ErrSeekOutOfRange)
	}
	index := f.handle.FrameIndex(t)
	reader, err := f.Frames(ctx, index, 1)
	if err != nil {
		return Frame{}, err
	}
	defer reader.Close()
	frame, err := reader.Next()
	if errors.Is(err, io.EOF) {
		return Frame{}, inputError("seek", fmt.Sprintf("no frame decoded at t=%.3f", t), ErrSeekOutOfRange)
	}
	if err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// Frames starts one decoder for frames [first, first+count) resampled to the
// source frame rate.
func (f *File) Frames(ctx context.Context, first, count int) (FrameReader, error) {
	if first < 0 || count <= 0 {
		return nil, inputError("decode", fmt.Sprintf("invalid range first=%d count=%d", first, count), ErrSeekOutOfRange)
	}
	fps := strconv.FormatFloat(f.handle.FPS, 'f', -1, 64)
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-ss", formatSeconds(f.handle.FrameTime(first)),
		"-i", f.handle.Path,
		"-map", "0:v:0",
		"-an", "-sn", "-dn",
		"-vf", "fps=" + fps,
		"-frames:v", strconv.Itoa(count),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, f.opts.FFmpegBinary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrResource, "media", "decode", "open pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrResource, "media", "decode", "start ffmpeg", err)
	}
	return &pipeReader{
		ctx:    ctx,
		cmd:    cmd,
		stdout: stdout,
		stderr: &stderr,
		handle: f.handle,
		next:   first,
		end:    first + count,
	}, nil
}

// AudioTrack extracts the primary audio stream once as 16 kHz mono PCM WAV.
func (f *File) AudioTrack(ctx context.Context) (AudioStream, error) {
	if !f.handle.HasAudio {
		return AudioStream{}, inputError("audio", "source has no audio stream", ErrNoAudioTrack)
	}
	f.audioMu.Lock()
	defer f.audioMu.Unlock()
	if f.audio != nil {
		return *f.audio, nil
	}
	dest := filepath.Join(f.workDir, "audio_16k.wav")
	if err := ExtractAudio(ctx, f.opts.FFmpegBinary, f.handle.Path, f.handle.AudioIndex, dest); err != nil {
		if ctx.Err() != nil {
			return AudioStream{}, services.Wrap(services.ErrCancelled, "media", "audio", "", ctx.Err())
		}
		return AudioStream{}, inputError("audio", "extract audio", errors.Join(ErrCorruptData, err))
	}
	stream := AudioStream{
		Path:       dest,
		SampleRate: RecognitionSampleRate,
		Channels:   1,
		Language:   f.handle.AudioLanguage,
		Duration:   f.handle.Duration,
	}
	f.audio = &stream
	return stream, nil
}

// Close removes staged and derived files. It is safe to call more than once.
func (f *File) Close() error {
	var errs []error
	f.closeOnce.Do(func() {
		for _, path := range f.owned {
			if err := os.RemoveAll(path); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

type pipeReader struct {
	ctx    context.Context
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	handle Handle
	next   int
	end    int
	done   bool
	closed bool
}

func (r *pipeReader) Next() (Frame, error) {
	if r.done || r.next >= r.end {
		r.done = true
		return Frame{}, io.EOF
	}
	if err := r.ctx.Err(); err != nil {
		return Frame{}, services.Wrap(services.ErrCancelled, "media", "decode", "", err)
	}
	size := r.handle.Width * r.handle.Height * 4
	pix := make([]byte, size)
	if _, err := io.ReadFull(r.stdout, pix); err != nil {
		r.done = true
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		if r.ctx.Err() != nil {
			return Frame{}, services.Wrap(services.ErrCancelled, "media", "decode", "", r.ctx.Err())
		}
		return Frame{}, inputError("decode", fmt.Sprintf("short frame %d: %s", r.next, strings.TrimSpace(r.stderr.String())), errors.Join(ErrCorruptData, err))
	}
	frame := Frame{
		Index: r.next,
		Time:  r.handle.FrameTime(r.next),
		Image: &image.RGBA{
			Pix:    pix,
			Stride: r.handle.Width * 4,
			Rect:   image.Rect(0, 0, r.handle.Width, r.handle.Height),
		},
	}
	r.next++
	return frame, nil
}

func (r *pipeReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	_ = r.stdout.Close()
	if r.cmd.Process != nil && r.next < r.end {
		_ = r.cmd.Process.Kill()
	}
	_ = r.cmd.Wait()
	return nil
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', 6, 64)
}
