package encoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"overdub/internal/logging"
	"overdub/internal/media"
	"overdub/internal/media/ffprobe"
	"overdub/internal/services"
)

var (
	// ErrEncoderInit reports a writer that could not be started.
	ErrEncoderInit = errors.New("encoder init failed")
	// ErrWrite reports a frame that could not be written or a stream that
	// ended with the wrong number of frames.
	ErrWrite = errors.New("encoder write failed")
)

// Writer consumes raw RGBA frames.
type Writer interface {
	Write(frame []byte) error
	Close() error
}

// frameRater is implemented by writers that store a rate other than the one
// requested.
type frameRater interface {
	FrameRate() float64
}

// WriterOptions configures a new Writer.
type WriterOptions struct {
	FPS     float64
	Codec   string
	Quality float64
	// Binary is the ffmpeg executable the writer is expected to run.
	Binary string
}

// WriterFactory opens a Writer for path. Writers produce the picture only;
// audio is added by the mux step.
type WriterFactory func(path string, width, height int, opts WriterOptions) (Writer, error)

// ProbeFunc inspects a finished file.
type ProbeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Options configures an Encoder.
type Options struct {
	Codec        string
	Quality      float64
	WriteRetries int
	Factory      WriterFactory
	// Mux combines the written picture with audio and restores the exact
	// frame rate. Nil keeps the writer's file as the output.
	Mux           MuxFunc
	Probe         ProbeFunc
	FFmpegBinary  string
	FFprobeBinary string
	Logger        *slog.Logger
}

// Request describes one encode.
type Request struct {
	OutputPath string
	Width      int
	Height     int
	FPS        float64
	// Frames is the number of frames the producer will send.
	Frames int
	// AudioPath, when set, supplies the audio muxed into the output;
	// AudioIndex is the absolute stream index inside it.
	AudioPath  string
	AudioIndex int
	// Progress, when set, is called after each written frame.
	Progress func(written, total int)
}

// Result describes a finished output.
type Result struct {
	Path      string
	Frames    int
	SizeBytes int64
	Container string
	Elapsed   time.Duration
}

// Encoder writes frame streams to files.
type Encoder struct {
	opts   Options
	logger *slog.Logger
}

// New constructs an Encoder. A nil Factory selects Vidio, muxed by ffmpeg.
func New(opts Options) *Encoder {
	if opts.Factory == nil {
		opts.Factory = NewVidioWriter
		if opts.Mux == nil {
			opts.Mux = FFmpegMuxer(opts.FFmpegBinary)
		}
	}
	if opts.WriteRetries < 0 {
		opts.WriteRetries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Encoder{opts: opts, logger: logging.NewComponentLogger(logger, "encoder")}
}

// Encode drains frames into req.OutputPath. The channel must be closed by the
// producer. On any failure or cancellation no file is left at the output path.
func (e *Encoder) Encode(ctx context.Context, frames <-chan media.Frame, req Request) (Result, error) {
	started := time.Now()
	logger := logging.WithContext(ctx, e.logger)
	if req.Width <= 0 || req.Height <= 0 || req.FPS <= 0 || strings.TrimSpace(req.OutputPath) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "encode", "request",
			fmt.Sprintf("invalid geometry %dx%d@%.3f or empty output path", req.Width, req.Height, req.FPS), nil)
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrModel, "encode", "prepare output", "", errors.Join(ErrEncoderInit, err))
	}
	tempPath := sidePath(req.OutputPath, "partial")
	picturePath := tempPath
	if e.opts.Mux != nil {
		picturePath = sidePath(req.OutputPath, "frames")
		defer os.Remove(picturePath)
	}
	_ = os.Remove(tempPath)
	_ = os.Remove(picturePath)

	writer, err := e.opts.Factory(picturePath, req.Width, req.Height, WriterOptions{
		FPS:     req.FPS,
		Codec:   e.opts.Codec,
		Quality: e.opts.Quality,
		Binary:  e.opts.FFmpegBinary,
	})
	if err != nil {
		_ = os.Remove(picturePath)
		return Result{}, services.Wrap(services.ErrModel, "encode", "open writer", "", errors.Join(ErrEncoderInit, err))
	}
	writtenFPS := req.FPS
	if rater, ok := writer.(frameRater); ok && rater.FrameRate() > 0 {
		writtenFPS = rater.FrameRate()
	}
	logger.Info("encoding started",
		logging.String(logging.FieldEventType, "encode_started"),
		logging.String("output", req.OutputPath),
		logging.Int("frames", req.Frames),
		logging.Bool("audio", req.AudioPath != ""),
	)

	written, err := e.drain(ctx, frames, writer, req)
	closeErr := writer.Close()
	if err == nil && closeErr != nil {
		err = services.Wrap(services.ErrResource, "encode", "close writer", "", errors.Join(ErrWrite, closeErr))
	}
	if err == nil && e.opts.Mux != nil {
		muxErr := e.opts.Mux(ctx, MuxJob{
			VideoPath:  picturePath,
			AudioPath:  req.AudioPath,
			AudioIndex: req.AudioIndex,
			OutputPath: tempPath,
			TimeScale:  writtenFPS / req.FPS,
		})
		if muxErr != nil {
			err = services.Wrap(services.ErrResource, "encode", "mux", "", errors.Join(ErrWrite, muxErr))
		}
	}
	if err == nil {
		err = e.validate(ctx, tempPath, req)
	}
	if err == nil {
		if renameErr := os.Rename(tempPath, req.OutputPath); renameErr != nil {
			err = services.Wrap(services.ErrResource, "encode", "finalize output", "", errors.Join(ErrWrite, renameErr))
		}
	}
	if err != nil {
		_ = os.Remove(tempPath)
		if ctxErr := ctx.Err(); ctxErr != nil && services.KindOf(err) != services.KindCancelled {
			err = services.Wrap(services.ErrCancelled, "encode", "", "", ctxErr)
		}
		return Result{}, err
	}

	info, statErr := os.Stat(req.OutputPath)
	if statErr != nil {
		return Result{}, services.Wrap(services.ErrResource, "encode", "stat output", "", errors.Join(ErrWrite, statErr))
	}
	result := Result{
		Path:      req.OutputPath,
		Frames:    written,
		SizeBytes: info.Size(),
		Container: strings.TrimPrefix(filepath.Ext(req.OutputPath), "."),
		Elapsed:   time.Since(started),
	}
	logger.Info("encoding completed",
		logging.String(logging.FieldEventType, "encode_completed"),
		logging.String("output", result.Path),
		logging.Int("frames", result.Frames),
		logging.Int64("size_bytes", result.SizeBytes),
		logging.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

func (e *Encoder) drain(ctx context.Context, frames <-chan media.Frame, writer Writer, req Request) (int, error) {
	expected := 0
	for {
		var (
			frame media.Frame
			ok    bool
		)
		select {
		case <-ctx.Done():
			return expected, services.Wrap(services.ErrCancelled, "encode", "", "", ctx.Err())
		case frame, ok = <-frames:
		}
		if !ok {
			break
		}
		if frame.Index != expected {
			return expected, services.Wrap(services.ErrResource, "encode", "order",
				fmt.Sprintf("received frame %d, expected %d", frame.Index, expected), ErrWrite)
		}
		if frame.Image == nil || frame.Image.Bounds().Dx() != req.Width || frame.Image.Bounds().Dy() != req.Height {
			return expected, services.Wrap(services.ErrResource, "encode", "geometry",
				fmt.Sprintf("frame %d does not match %dx%d", frame.Index, req.Width, req.Height), ErrWrite)
		}
		if err := e.write(writer, frame, expected == 0); err != nil {
			return expected, err
		}
		expected++
		if req.Progress != nil {
			req.Progress(expected, req.Frames)
		}
	}
	if req.Frames > 0 && expected != req.Frames {
		return expected, services.Wrap(services.ErrResource, "encode", "frame count",
			fmt.Sprintf("wrote %d of %d frames", expected, req.Frames), ErrWrite)
	}
	return expected, nil
}

// write sends one frame. Writers start their encoder on the first frame, so
// a failure there is an init failure and is not retried.
func (e *Encoder) write(writer Writer, frame media.Frame, first bool) error {
	pix := packedRGBA(frame)
	if first {
		if err := writer.Write(pix); err != nil {
			return services.Wrap(services.ErrModel, "encode", "start encoder",
				fmt.Sprintf("frame %d", frame.Index), errors.Join(ErrEncoderInit, err))
		}
		return nil
	}
	var err error
	for attempt := 0; attempt <= e.opts.WriteRetries; attempt++ {
		if err = writer.Write(pix); err == nil {
			return nil
		}
		if attempt < e.opts.WriteRetries {
			e.logger.Debug("frame write failed; retrying",
				logging.Int("frame", frame.Index),
				logging.Error(err),
			)
		}
	}
	return services.Wrap(services.ErrResource, "encode", "write frame",
		fmt.Sprintf("frame %d", frame.Index), errors.Join(ErrWrite, err))
}

// packedRGBA returns the frame's pixels without row padding.
func packedRGBA(frame media.Frame) []byte {
	img := frame.Image
	b := img.Bounds()
	rowBytes := b.Dx() * 4
	if img.Stride == rowBytes && len(img.Pix) == rowBytes*b.Dy() {
		return img.Pix
	}
	out := make([]byte, 0, rowBytes*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		start := img.PixOffset(b.Min.X, y)
		out = append(out, img.Pix[start:start+rowBytes]...)
	}
	return out
}

// fpsTolerance is the relative frame rate error accepted by validate.
const fpsTolerance = 0.001

// validate checks the finished file against the request when a prober is
// set: one picture of the requested size and rate, and audio when some was
// muxed in.
func (e *Encoder) validate(ctx context.Context, path string, req Request) error {
	if e.opts.Probe == nil {
		return nil
	}
	result, err := e.opts.Probe(ctx, e.opts.FFprobeBinary, path)
	if err != nil {
		return services.Wrap(services.ErrResource, "encode", "validate output", "", errors.Join(ErrWrite, err))
	}
	video, ok := result.PrimaryVideo()
	if !ok {
		return services.Wrap(services.ErrResource, "encode", "validate output", "no video stream in output", ErrWrite)
	}
	if video.Width != req.Width || video.Height != req.Height {
		return services.Wrap(services.ErrResource, "encode", "validate output",
			fmt.Sprintf("output is %dx%d, want %dx%d", video.Width, video.Height, req.Width, req.Height), ErrWrite)
	}
	if fps := video.FrameRate(); fps > 0 && math.Abs(fps-req.FPS)/req.FPS > fpsTolerance {
		return services.Wrap(services.ErrResource, "encode", "validate output",
			fmt.Sprintf("output runs at %.4f fps, want %.4f", fps, req.FPS), ErrWrite)
	}
	if e.opts.Mux != nil && req.AudioPath != "" && result.AudioStreamCount() == 0 {
		return services.Wrap(services.ErrResource, "encode", "validate output", "audio track missing from output", ErrWrite)
	}
	return nil
}

// sidePath names a working file next to the output, keeping the container
// extension so ffmpeg picks the right muxer.
func sidePath(output, tag string) string {
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + "." + tag + ext
}
