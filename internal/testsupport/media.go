package testsupport

import (
	"context"
	"image"
	"image/color"
	"io"
	"sync"
	"sync/atomic"

	"overdub/internal/media"
	"overdub/internal/services"
)

// FakeSource is an in-memory media.Source. Frame i is filled with Fill(i)
// (solid grey by default).
type FakeSource struct {
	H media.Handle
	// Audio is returned by AudioTrack when the handle has audio.
	Audio media.AudioStream
	// AudioErr, when set, is returned by AudioTrack.
	AudioErr error
	Fill     func(i int) color.RGBA
	// ShortBy makes every reader end that many frames before the stream does.
	ShortBy int
	// FramesErr, when set, is returned by Frames.
	FramesErr error

	decoded atomic.Int64
	mu      sync.Mutex
	closed  bool
}

var _ media.Source = (*FakeSource)(nil)

// NewFakeSource builds a source with the given geometry.
func NewFakeSource(duration, fps float64, width, height int, hasAudio bool) *FakeSource {
	src := &FakeSource{
		H: media.Handle{
			Duration: duration,
			FPS:      fps,
			Width:    width,
			Height:   height,
			HasAudio: hasAudio,
			Format:   "mov,mp4,m4a,3gp,3g2,mj2",
			MIME:     "video/mp4",
			Path:     "/fake/source.mp4",
		},
	}
	if hasAudio {
		src.Audio = media.AudioStream{Path: "/fake/audio.wav", SampleRate: 16000, Channels: 1, Duration: duration}
	}
	return src
}

// Handle implements media.Source.
func (s *FakeSource) Handle() media.Handle { return s.H }

// FrameAt implements media.Source.
func (s *FakeSource) FrameAt(ctx context.Context, t float64) (media.Frame, error) {
	if t < 0 || t >= s.H.Duration {
		return media.Frame{}, services.Wrap(services.ErrInput, "media", "seek", "", media.ErrSeekOutOfRange)
	}
	i := s.H.FrameIndex(t)
	return s.frame(i), nil
}

// Frames implements media.Source.
func (s *FakeSource) Frames(ctx context.Context, first, count int) (media.FrameReader, error) {
	if s.FramesErr != nil {
		return nil, s.FramesErr
	}
	end := min(first+count, s.H.FrameCount()-s.ShortBy)
	return &fakeReader{ctx: ctx, src: s, next: first, end: end}, nil
}

// AudioTrack implements media.Source.
func (s *FakeSource) AudioTrack(context.Context) (media.AudioStream, error) {
	if s.AudioErr != nil {
		return media.AudioStream{}, s.AudioErr
	}
	if !s.H.HasAudio {
		return media.AudioStream{}, services.Wrap(services.ErrInput, "media", "audio", "source has no audio stream", media.ErrNoAudioTrack)
	}
	return s.Audio, nil
}

// Close implements media.Source.
func (s *FakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *FakeSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Decoded reports how many frames readers have produced.
func (s *FakeSource) Decoded() int {
	return int(s.decoded.Load())
}

func (s *FakeSource) frame(i int) media.Frame {
	img := image.NewRGBA(image.Rect(0, 0, s.H.Width, s.H.Height))
	fill := color.RGBA{R: 90, G: 90, B: 90, A: 255}
	if s.Fill != nil {
		fill = s.Fill(i)
	}
	for p := 0; p < len(img.Pix); p += 4 {
		img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = fill.R, fill.G, fill.B, fill.A
	}
	return media.Frame{Index: i, Time: s.H.FrameTime(i), Image: img}
}

type fakeReader struct {
	ctx       context.Context
	src       *FakeSource
	next, end int
}

func (r *fakeReader) Next() (media.Frame, error) {
	if err := r.ctx.Err(); err != nil {
		return media.Frame{}, err
	}
	if r.next >= r.end {
		return media.Frame{}, io.EOF
	}
	f := r.src.frame(r.next)
	r.next++
	r.src.decoded.Add(1)
	return f, nil
}

func (r *fakeReader) Close() error { return nil }
