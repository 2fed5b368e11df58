package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"overdub/internal/composite"
	"overdub/internal/encoding"
	"overdub/internal/logging"
	"overdub/internal/media"
	"overdub/internal/services"
	"overdub/internal/synth"
	"overdub/internal/transcript"
)

var (
	// ErrRunNotFound reports an unknown or forgotten run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunActive reports an operation that requires a terminal run.
	ErrRunActive = errors.New("run still active")
	// ErrClosed reports a Start on a closed controller.
	ErrClosed = errors.New("controller closed")
)

// Input is the source handed to a run: either caller bytes or a local path
// the caller owns. Name is an optional display name for the source.
type Input struct {
	Data []byte
	Path string
	Name string
}

func (in Input) empty() bool {
	return len(in.Data) == 0 && strings.TrimSpace(in.Path) == ""
}

// StartOptions tunes a single run.
type StartOptions struct {
	// Target is the translation or narration language. Empty uses the
	// controller default for translate mode and the source language for dub.
	Target string
	// Language hints the spoken language; empty or "auto" detects it.
	Language string
	// OutputPath overrides the generated output location.
	OutputPath string
	// ExportSRT writes the caption track next to the output.
	ExportSRT bool
}

// Opener stages and probes an input.
type Opener func(ctx context.Context, input Input) (media.Source, error)

// Transcriber produces a transcript from an audio track.
type Transcriber interface {
	Transcribe(ctx context.Context, audio media.AudioStream, language string) (transcript.Transcript, error)
}

// Translator rewrites transcript text into another language.
type Translator interface {
	Translate(ctx context.Context, tr transcript.Transcript, target string) (transcript.Transcript, error)
}

// Synthesizer speaks every segment of a transcript.
type Synthesizer interface {
	SynthesizeTranscript(ctx context.Context, tr transcript.Transcript, progress func(done, total int)) ([]synth.Audio, error)
}

// Compositor renders frames into out in index order and closes it.
type Compositor interface {
	Run(ctx context.Context, src media.Source, plan *composite.Plan, out chan<- media.Frame) error
}

// Encoder writes a frame stream to a file.
type Encoder interface {
	Encode(ctx context.Context, frames <-chan media.Frame, req encoding.Request) (encoding.Result, error)
}

// Recorder persists terminal runs.
type Recorder interface {
	Record(ctx context.Context, snap Snapshot) error
}

// Deps are the stage implementations a Controller drives.
type Deps struct {
	Open        Opener
	Transcriber Transcriber
	Translator  Translator
	Synthesizer Synthesizer
	Compositor  Compositor
	Encoder     Encoder
	Recorder    Recorder
	// Closers run when the controller closes.
	Closers []func() error
}

// Options configures a Controller.
type Options struct {
	MaxConcurrentRuns int
	StageRetries      int
	QueueCapacity     int
	OutputDir         string
	WorkDir           string
	Container         string
	DefaultTarget     string
	DefaultLanguage   string
	DubSampleRate     int
	ExportSRT         bool
	Logger            *slog.Logger
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentRuns <= 0 {
		o.MaxConcurrentRuns = 1
	}
	if o.StageRetries < 0 {
		o.StageRetries = 0
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 8
	}
	if o.Container == "" {
		o.Container = "mp4"
	}
	if o.DubSampleRate <= 0 {
		o.DubSampleRate = synth.DefaultSampleRate
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

// Controller owns the run registry.
type Controller struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	slots  chan struct{}

	mu     sync.RWMutex
	runs   map[string]*Run
	closed bool
	wg     sync.WaitGroup
}

// NewController constructs a Controller.
func NewController(deps Deps, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		deps:   deps,
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "pipeline"),
		slots:  make(chan struct{}, opts.MaxConcurrentRuns),
		runs:   make(map[string]*Run),
	}
}

// Start validates the invocation, registers a pending run, and processes it
// in the background. The run is detached from ctx except for the values it
// carries; use Cancel to stop it.
func (c *Controller) Start(ctx context.Context, input Input, mode Mode, opts StartOptions) (string, error) {
	if input.empty() {
		return "", services.Wrap(services.ErrValidation, "pipeline", "start", "input is empty", nil)
	}
	if !mode.Valid() {
		return "", services.Wrap(services.ErrValidation, "pipeline", "start", fmt.Sprintf("invalid mode %q", mode), nil)
	}
	if mode == ModeTranslate && strings.TrimSpace(opts.Target) == "" {
		opts.Target = c.opts.DefaultTarget
	}
	if strings.TrimSpace(opts.Language) == "" {
		opts.Language = c.opts.DefaultLanguage
	}
	if c.opts.ExportSRT {
		opts.ExportSRT = true
	}

	id := uuid.NewString()
	run := newRun(id, input, mode, opts, c.opts.Now().UTC())
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = services.WithMode(services.WithRunID(runCtx, id), string(mode))
	run.cancel = cancel

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	c.runs[id] = run
	c.wg.Add(1)
	c.mu.Unlock()

	logging.WithContext(runCtx, c.logger).Info("run queued",
		logging.String(logging.FieldEventType, "run_queued"),
		logging.String("name", input.Name),
		logging.String("target", opts.Target),
	)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.execute(runCtx, run)
	}()
	return id, nil
}

func (c *Controller) lookup(id string) (*Run, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	run, ok := c.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// Progress returns the current snapshot of a run.
func (c *Controller) Progress(id string) (Snapshot, error) {
	run, err := c.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return run.Snapshot(), nil
}

// Cancel asks a run to stop. Cancelling a terminal run has no effect.
func (c *Controller) Cancel(id string) error {
	run, err := c.lookup(id)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// Result returns the output of a completed run, or nil while the run is not
// completed.
func (c *Controller) Result(id string) (*Output, error) {
	run, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	snap := run.Snapshot()
	if snap.State != StateCompleted {
		return nil, nil
	}
	return snap.Output, nil
}

// Wait blocks until the run is terminal or ctx ends.
func (c *Controller) Wait(ctx context.Context, id string) (Snapshot, error) {
	run, err := c.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-run.done:
		return run.Snapshot(), nil
	case <-ctx.Done():
		return run.Snapshot(), ctx.Err()
	}
}

// Subscribe streams snapshots of a run. The channel starts with the current
// state and is closed after the terminal snapshot. Slow readers skip
// intermediate updates. The returned func unsubscribes early.
func (c *Controller) Subscribe(id string) (<-chan Snapshot, func(), error) {
	run, err := c.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := run.subscribe()
	return ch, unsubscribe, nil
}

// List returns snapshots of every registered run, oldest first.
func (c *Controller) List() []Snapshot {
	c.mu.RLock()
	snaps := make([]Snapshot, 0, len(c.runs))
	for _, run := range c.runs {
		snaps = append(snaps, run.Snapshot())
	}
	c.mu.RUnlock()
	slices.SortFunc(snaps, func(a, b Snapshot) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return snaps
}

// Forget removes a terminal run from the registry. Its output file is left
// untouched.
func (c *Controller) Forget(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if !run.Snapshot().State.Terminal() {
		return fmt.Errorf("%w: %s", ErrRunActive, id)
	}
	delete(c.runs, id)
	return nil
}

// Close cancels every active run, waits for them to finish, and releases
// backend resources.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, run := range c.runs {
		run.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()

	var errs []error
	for _, closeFn := range c.deps.Closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
