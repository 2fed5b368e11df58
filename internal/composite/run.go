package composite

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"overdub/internal/logging"
	"overdub/internal/media"
	"overdub/internal/services"
)

// ErrQueueStall reports an encoder that stopped draining the frame queue.
var ErrQueueStall = errors.New("frame queue stalled")

// Options tunes Run.
type Options struct {
	Workers     int
	ChunkFrames int
	// BufferFrames bounds the composed frames waiting across all chunks; each
	// chunk may hold BufferFrames/Workers of them, at least one.
	BufferFrames int
	StallTimeout time.Duration
	Style        Style
	Logger       *slog.Logger
}

// Compositor renders a source's frames with a plan.
type Compositor struct {
	opts     Options
	renderer *Renderer
	logger   *slog.Logger
}

// New constructs a Compositor.
func New(opts Options) *Compositor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ChunkFrames <= 0 {
		opts.ChunkFrames = 48
	}
	if opts.BufferFrames <= 0 {
		opts.BufferFrames = 8
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = 2 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Compositor{
		opts:     opts,
		renderer: NewRenderer(opts.Style),
		logger:   logging.NewComponentLogger(logger, "compositor"),
	}
}

// chunk streams frames [first, first+count) from its worker to the emitter.
type chunk struct {
	first, count int
	frames       chan media.Frame
}

// perChunkBuffer is the capacity of each chunk's frame channel.
func (c *Compositor) perChunkBuffer() int {
	return max(1, c.opts.BufferFrames/c.opts.Workers)
}

// Run composes frames [0, N) with N = ceil(duration * fps) and sends them to
// out strictly in index order, closing out when finished. At most Workers
// chunks are decoded and composed at once, and each streams through a small
// channel, so the frames held in memory stay near BufferFrames + Workers.
func (c *Compositor) Run(ctx context.Context, src media.Source, plan *Plan, out chan<- media.Frame) error {
	defer close(out)

	handle := src.Handle()
	total := handle.FrameCount()
	if total == 0 {
		return nil
	}
	logger := logging.WithContext(ctx, c.logger)
	logger.Info("composition started",
		logging.String(logging.FieldEventType, "composite_started"),
		logging.Int("frames", total),
		logging.Int("workers", c.opts.Workers),
		logging.Int("chunk_frames", c.opts.ChunkFrames),
		logging.Int("buffer_frames", c.opts.BufferFrames),
	)
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	slots := make(chan struct{}, c.opts.Workers)
	queue := make(chan chunk, c.opts.Workers)

	g.Go(func() error {
		defer close(queue)
		for first := 0; first < total; first += c.opts.ChunkFrames {
			select {
			case slots <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			ch := chunk{
				first:  first,
				count:  min(c.opts.ChunkFrames, total-first),
				frames: make(chan media.Frame, c.perChunkBuffer()),
			}
			select {
			case queue <- ch:
			case <-gctx.Done():
				return gctx.Err()
			}
			g.Go(func() error {
				defer close(ch.frames)
				return c.renderChunk(gctx, src, plan, ch)
			})
		}
		return nil
	})

	g.Go(func() error {
		for ch := range queue {
			received := 0
			for received < ch.count {
				var (
					frame media.Frame
					ok    bool
				)
				select {
				case frame, ok = <-ch.frames:
				case <-gctx.Done():
					return gctx.Err()
				}
				if !ok {
					// A worker only closes early on failure; Wait reports its error.
					<-gctx.Done()
					return gctx.Err()
				}
				if err := c.send(gctx, out, frame); err != nil {
					return err
				}
				received++
			}
			<-slots
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return services.Wrap(services.ErrCancelled, "composite", "", "", ctxErr)
		}
		return err
	}
	logger.Info("composition completed",
		logging.String(logging.FieldEventType, "composite_completed"),
		logging.Int("frames", total),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// renderChunk decodes and composes the chunk's frames, sending each as soon
// as it is ready. A decoder that ends early repeats its last frame (or black)
// so the chunk is always full.
func (c *Compositor) renderChunk(ctx context.Context, src media.Source, plan *Plan, ch chunk) error {
	handle := src.Handle()
	reader, err := src.Frames(ctx, ch.first, ch.count)
	if err != nil {
		return err
	}
	defer reader.Close()

	var last *image.RGBA
	exhausted := false
	for i := ch.first; i < ch.first+ch.count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var raw *image.RGBA
		if !exhausted {
			decoded, err := reader.Next()
			switch {
			case errors.Is(err, io.EOF):
				exhausted = true
			case err != nil:
				return err
			default:
				raw = decoded.Image
			}
		}
		if raw == nil {
			raw = last
		}
		if raw == nil {
			raw = image.NewRGBA(image.Rect(0, 0, handle.Width, handle.Height))
		}
		last = raw
		t := handle.FrameTime(i)
		select {
		case ch.frames <- media.Frame{Index: i, Time: t, Image: c.renderer.Compose(raw, plan, t)}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if exhausted {
		c.logger.Debug("decoder ended before chunk end; repeated last frame",
			logging.Int("first", ch.first),
			logging.Int("count", ch.count),
		)
	}
	return nil
}

func (c *Compositor) send(ctx context.Context, out chan<- media.Frame, frame media.Frame) error {
	select {
	case out <- frame:
		return nil
	default:
	}
	timer := time.NewTimer(c.opts.StallTimeout)
	defer timer.Stop()
	select {
	case out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return services.Wrap(services.ErrResource, "composite", "queue",
			fmt.Sprintf("frame %d blocked for %s", frame.Index, c.opts.StallTimeout), ErrQueueStall)
	}
}
