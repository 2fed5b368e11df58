package media

import (
	"context"
	"errors"
	"image"
	"math"
)

var (
	// ErrUnsupportedFormat reports bytes that are not a video container or carry no video stream.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrCorruptData reports a container that cannot be probed or decoded.
	ErrCorruptData = errors.New("corrupt data")
	// ErrSeekOutOfRange reports a timestamp outside [0, duration).
	ErrSeekOutOfRange = errors.New("seek out of range")
	// ErrNoAudioTrack reports a source without any audio stream.
	ErrNoAudioTrack = errors.New("no audio track")
)

// Handle describes an opened source. It is never mutated after Open.
type Handle struct {
	Duration      float64 // seconds
	FPS           float64
	Width         int
	Height        int
	HasAudio      bool
	AudioIndex    int
	AudioLanguage string // ISO 639-1 from stream tags, when present
	Format        string // ffprobe container name
	MIME          string
	Path          string
}

// FrameCount returns ceil(duration * fps), the number of frames the
// compositor emits.
func (h Handle) FrameCount() int {
	if h.Duration <= 0 || h.FPS <= 0 {
		return 0
	}
	return int(math.Ceil(h.Duration*h.FPS - 1e-9))
}

// FrameTime returns the presentation time of frame index i.
func (h Handle) FrameTime(i int) float64 {
	if h.FPS <= 0 {
		return 0
	}
	return float64(i) / h.FPS
}

// FrameIndex maps a timestamp to the frame that is visible at it.
func (h Handle) FrameIndex(t float64) int {
	return int(math.Floor(t*h.FPS + 1e-6))
}

// Frame is one decoded RGBA picture.
type Frame struct {
	Index int
	Time  float64
	Image *image.RGBA
}

// FrameReader yields a contiguous range of frames in order. Next returns
// io.EOF once the range or the stream is exhausted.
type FrameReader interface {
	Next() (Frame, error)
	Close() error
}

// AudioStream is an extracted audio track on disk.
type AudioStream struct {
	Path       string
	SampleRate int
	Channels   int
	Language   string
	Duration   float64
}

// Source is the decode side of the pipeline.
type Source interface {
	Handle() Handle
	FrameAt(ctx context.Context, t float64) (Frame, error)
	Frames(ctx context.Context, first, count int) (FrameReader, error)
	AudioTrack(ctx context.Context) (AudioStream, error)
	Close() error
}
