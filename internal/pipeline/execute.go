package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"overdub/internal/composite"
	"overdub/internal/encoding"
	"overdub/internal/language"
	"overdub/internal/logging"
	"overdub/internal/media"
	"overdub/internal/services"
	"overdub/internal/synth"
	"overdub/internal/transcribe"
	"overdub/internal/transcript"
)

// Stage weights in percent. Open/probe carries no weight.
const (
	weightTranscribe = 30.0
	weightTransform  = 20.0
	weightRender     = 50.0

	transformStart = weightTranscribe
	renderStart    = weightTranscribe + weightTransform
)

// Warning messages attached to snapshots.
const (
	warnNoSpeech         = "no speech detected; output has no captions"
	warnNoAudio          = "source has no audio track; output has no captions"
	warnDurationMismatch = "narration for %d segment(s) could not be fitted to the original timing"
)

// execution carries the per-run artifacts passed between stages.
type execution struct {
	run    *Run
	logger *slog.Logger
	mode   Mode
	opts   StartOptions

	src      media.Source
	handle   media.Handle
	spoken   transcript.Transcript
	captions transcript.Transcript
	clips    []synth.Audio
	workDir  string
	output   encoding.Result
	srtPath  string
}

func (c *Controller) execute(ctx context.Context, run *Run) {
	logger := logging.WithContext(ctx, c.logger)
	snap := run.Snapshot()

	select {
	case c.slots <- struct{}{}:
		defer func() { <-c.slots }()
	case <-ctx.Done():
		c.finishCancelled(ctx, run, logger)
		return
	}

	if !run.update(func(s *Snapshot) {
		s.State = StateRunning
		s.Stage = StageOpening
		s.StartedAt = c.opts.Now().UTC()
	}) {
		return
	}
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_started"),
		logging.String("name", snap.Name),
	)

	ex := &execution{run: run, logger: logger, mode: snap.Mode, opts: run.opts}
	err := c.process(ctx, ex)
	if ex.src != nil {
		if closeErr := ex.src.Close(); closeErr != nil {
			logger.Debug("source cleanup failed", logging.Error(closeErr))
		}
	}
	if ex.workDir != "" {
		_ = os.RemoveAll(ex.workDir)
	}

	switch {
	case err == nil:
		c.finishCompleted(ctx, ex)
	case ctx.Err() != nil || services.KindOf(err) == services.KindCancelled:
		c.removeOutputs(ex)
		c.finishCancelled(ctx, run, logger)
	default:
		c.removeOutputs(ex)
		c.finishFailed(ctx, run, logger, err)
	}
}

func (c *Controller) process(ctx context.Context, ex *execution) error {
	if err := c.stage(ctx, ex, StageOpening, c.openSource); err != nil {
		return err
	}
	if err := c.stage(ctx, ex, StageTranscribing, c.transcribe); err != nil {
		return err
	}
	ex.run.advance(transformStart)

	switch {
	case ex.mode == ModeTranslate && !ex.spoken.Empty():
		if err := c.stage(ctx, ex, StageTranslating, c.translate); err != nil {
			return err
		}
	case ex.mode == ModeDub:
		translateFirst := c.needsTranslation(ex)
		attrs := logging.DecisionAttrs("dub_translation", translationDecision(translateFirst),
			fmt.Sprintf("target %q, spoken %q", ex.opts.Target, ex.spoken.Language()))
		ex.logger.Info("dub narration language decided", logging.Args(attrs...)...)
		if translateFirst {
			if err := c.stage(ctx, ex, StageTranslating, c.translate); err != nil {
				return err
			}
		}
		if err := c.stage(ctx, ex, StageSynthesizing, c.synthesize); err != nil {
			return err
		}
	}
	ex.run.advance(renderStart)

	if err := c.stage(ctx, ex, StageRendering, c.render); err != nil {
		return err
	}
	return c.exportSRT(ex)
}

// stage runs fn with the stage label in place, retrying resource failures.
func (c *Controller) stage(ctx context.Context, ex *execution, name string, fn func(context.Context, *execution) error) error {
	ex.run.update(func(s *Snapshot) { s.Stage = name })
	stageCtx := services.WithStage(ctx, name)
	logger := logging.WithContext(stageCtx, c.logger)
	started := time.Now()
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	attempts := 1 + c.opts.StageRetries
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return services.Wrap(services.ErrCancelled, name, "", "", err)
		}
		err = fn(stageCtx, ex)
		if err == nil {
			logger.Info("stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.Duration("stage_duration", time.Since(started)),
				logging.Int(logging.FieldProgressPercent, ex.run.Snapshot().Progress),
			)
			return nil
		}
		if !services.Retryable(err) || attempt == attempts || ctx.Err() != nil {
			break
		}
		logging.WarnWithContext(logger, "stage failed with a transient error; retrying", "stage_retry",
			logging.Int("attempt", attempt),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check disk space and encoder health if this repeats"),
			logging.String(logging.FieldImpact, "stage restarts from its beginning"),
		)
	}
	return err
}

func (c *Controller) openSource(ctx context.Context, ex *execution) error {
	if c.deps.Open == nil {
		return services.Wrap(services.ErrModel, "open", "", "no media opener configured", nil)
	}
	src, err := c.deps.Open(ctx, ex.run.source())
	if err != nil {
		return err
	}
	ex.run.releaseInput()
	ex.src = src
	ex.handle = src.Handle()
	handle := ex.handle
	ex.run.update(func(s *Snapshot) { s.Source = &handle })

	if !ex.handle.HasAudio && ex.mode == ModeDub {
		return services.Wrap(services.ErrInput, "open", "audio", "dubbing requires an audio track", media.ErrNoAudioTrack)
	}
	dir, err := os.MkdirTemp(c.opts.WorkDir, "overdub-run-")
	if err != nil {
		return services.Wrap(services.ErrResource, "open", "work dir", "", err)
	}
	ex.workDir = dir
	return nil
}

func (c *Controller) transcribe(ctx context.Context, ex *execution) error {
	if !ex.handle.HasAudio {
		ex.spoken = transcript.New(language.Undetermined, nil)
		ex.captions = ex.spoken
		c.warn(ex, warnNoAudio, "no_audio_track")
		return nil
	}
	if c.deps.Transcriber == nil {
		return services.Wrap(services.ErrModel, "transcribe", "", "no transcriber configured", transcribe.ErrModelLoad)
	}
	audio, err := ex.src.AudioTrack(ctx)
	if err != nil {
		return err
	}
	tr, err := c.deps.Transcriber.Transcribe(ctx, audio, ex.opts.Language)
	if err != nil {
		if !errors.Is(err, transcribe.ErrTranscriptionUnavailable) || ex.mode == ModeDub {
			return err
		}
		c.warn(ex, warnNoSpeech, "transcription_empty")
	}
	ex.spoken = tr
	ex.captions = tr
	ex.run.update(func(s *Snapshot) {
		s.Language = tr.Language()
		s.Segments = tr.Len()
	})
	return nil
}

func (c *Controller) needsTranslation(ex *execution) bool {
	target := strings.TrimSpace(ex.opts.Target)
	if target == "" {
		return false
	}
	iso, err := language.Normalize(target)
	return err != nil || iso != ex.spoken.Language()
}

func (c *Controller) translate(ctx context.Context, ex *execution) error {
	if c.deps.Translator == nil {
		return services.Wrap(services.ErrModel, "translate", "", "no translator configured", nil)
	}
	translated, err := c.deps.Translator.Translate(ctx, ex.spoken, ex.opts.Target)
	if err != nil {
		return err
	}
	ex.captions = translated
	return nil
}

func (c *Controller) synthesize(ctx context.Context, ex *execution) error {
	if c.deps.Synthesizer == nil {
		return services.Wrap(services.ErrModel, "synthesize", "", "no synthesizer configured", nil)
	}
	clips, err := c.deps.Synthesizer.SynthesizeTranscript(ctx, ex.captions, func(done, total int) {
		if total > 0 {
			ex.run.advance(transformStart + weightTransform*float64(done)/float64(total))
		}
	})
	if err != nil {
		return err
	}
	mismatched := 0
	for _, clip := range clips {
		if clip.HasWarning(synth.DurationMismatch) {
			mismatched++
		}
	}
	if mismatched > 0 {
		c.warn(ex, fmt.Sprintf(warnDurationMismatch, mismatched), "duration_mismatch")
	}
	ex.clips = clips
	return nil
}

// render runs the compositor and encoder as producer and consumer over a
// bounded queue.
func (c *Controller) render(ctx context.Context, ex *execution) error {
	if c.deps.Compositor == nil || c.deps.Encoder == nil {
		return services.Wrap(services.ErrModel, "render", "", "compositor or encoder not configured", encoding.ErrEncoderInit)
	}
	plan := &composite.Plan{
		Transcript: ex.captions,
		Captions:   ex.mode.captions(),
		FPS:        ex.handle.FPS,
	}
	if ex.mode == ModeTranslate {
		badge := language.ToISO2(ex.opts.Target)
		if badge == "" {
			badge = ex.captions.Language()
		}
		plan.Badge = strings.ToUpper(badge)
	}

	audioPath, audioIndex := "", 0
	switch {
	case ex.mode == ModeDub:
		plan.Dub = composite.BuildDubTrack(ex.handle.Duration, c.opts.DubSampleRate, ex.captions, ex.clips)
		audioPath = filepath.Join(ex.workDir, "dub.wav")
		if err := encoding.WriteWAV(audioPath, plan.Dub.Samples, plan.Dub.SampleRate); err != nil {
			return services.Wrap(services.ErrResource, "render", "write dub track", "", err)
		}
	case ex.handle.HasAudio:
		audioPath, audioIndex = ex.handle.Path, ex.handle.AudioIndex
	}

	outputPath, err := c.outputPath(ex)
	if err != nil {
		return err
	}
	total := ex.handle.FrameCount()
	frames := make(chan media.Frame, c.opts.QueueCapacity)
	renderCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sampler := logging.NewProgressSampler(5)
	var (
		wg      sync.WaitGroup
		compErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if compErr = c.deps.Compositor.Run(renderCtx, ex.src, plan, frames); compErr != nil {
			cancel()
		}
	}()
	result, encErr := c.deps.Encoder.Encode(renderCtx, frames, encoding.Request{
		OutputPath: outputPath,
		Width:      ex.handle.Width,
		Height:     ex.handle.Height,
		FPS:        ex.handle.FPS,
		Frames:     total,
		AudioPath:  audioPath,
		AudioIndex: audioIndex,
		Progress: func(written, total int) {
			if total <= 0 {
				return
			}
			pct := renderStart + weightRender*float64(written)/float64(total)
			ex.run.advance(pct)
			if sampler.ShouldLog(pct, StageRendering) {
				ex.logger.Info("render progress",
					logging.String(logging.FieldEventType, "render_progress"),
					logging.Float64(logging.FieldProgressPercent, pct),
					logging.Int("frames", written),
				)
			}
		},
	})
	if encErr != nil {
		cancel()
	}
	// Drain so a compositor blocked on a full queue observes cancellation.
	go func() {
		for range frames {
		}
	}()
	wg.Wait()

	switch {
	case compErr != nil && services.KindOf(compErr) != services.KindCancelled:
		return compErr
	case encErr != nil && (services.KindOf(encErr) != services.KindCancelled || ctx.Err() != nil):
		return encErr
	case compErr != nil:
		return compErr
	case encErr != nil:
		return encErr
	}
	ex.output = result
	return nil
}

func (c *Controller) outputPath(ex *execution) (string, error) {
	if p := strings.TrimSpace(ex.opts.OutputPath); p != "" {
		return p, nil
	}
	dir := c.opts.OutputDir
	if dir == "" {
		dir = ex.workDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrResource, "render", "output dir", "", err)
	}
	return filepath.Join(dir, ex.run.Snapshot().ID+"."+c.opts.Container), nil
}

func (c *Controller) exportSRT(ex *execution) error {
	if !ex.opts.ExportSRT || ex.captions.Empty() {
		return nil
	}
	path := strings.TrimSuffix(ex.output.Path, filepath.Ext(ex.output.Path)) + ".srt"
	f, err := os.Create(path)
	if err != nil {
		return services.Wrap(services.ErrResource, "export", "create srt", "", err)
	}
	writeErr := transcript.WriteSRT(f, ex.captions)
	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(path)
		return services.Wrap(services.ErrResource, "export", "write srt", "", writeErr)
	}
	ex.srtPath = path
	return nil
}

func (c *Controller) warn(ex *execution, message, eventType string) {
	ex.run.update(func(s *Snapshot) { s.Warnings = append(s.Warnings, message) })
	logging.WarnWithContext(ex.logger, message, eventType,
		logging.Alert(eventType),
		logging.String(logging.FieldImpact, "run continues with reduced output"),
		logging.String(logging.FieldErrorHint, "check the source audio"),
	)
}

func (c *Controller) removeOutputs(ex *execution) {
	for _, p := range []string{ex.output.Path, ex.srtPath} {
		if p != "" {
			_ = os.Remove(p)
		}
	}
}

func (c *Controller) finishCompleted(ctx context.Context, ex *execution) {
	out := &Output{
		Path:      ex.output.Path,
		SRTPath:   ex.srtPath,
		Container: ex.output.Container,
		SizeBytes: ex.output.SizeBytes,
		Frames:    ex.output.Frames,
	}
	ex.run.finish(StateCompleted, func(s *Snapshot) {
		s.Progress = 100
		s.Stage = StageDone
		s.Output = out
		s.FinishedAt = c.opts.Now().UTC()
	})
	ex.logger.Info("run completed",
		logging.String(logging.FieldEventType, "run_completed"),
		logging.String("output", out.Path),
		logging.Int("frames", out.Frames),
		logging.Int64("size_bytes", out.SizeBytes),
	)
	c.record(ctx, ex.run)
}

func (c *Controller) finishFailed(ctx context.Context, run *Run, logger *slog.Logger, err error) {
	kind := services.KindOf(err)
	run.finish(StateFailed, func(s *Snapshot) {
		s.ErrorKind = kind
		s.ErrorMessage = err.Error()
		s.FinishedAt = c.opts.Now().UTC()
	})
	logging.ErrorWithContext(logger, "run failed", "run_failed",
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, failureHint(kind)),
	)
	c.record(ctx, run)
}

func (c *Controller) finishCancelled(ctx context.Context, run *Run, logger *slog.Logger) {
	if !run.finish(StateCancelled, func(s *Snapshot) {
		s.ErrorKind = services.KindCancelled
		s.FinishedAt = c.opts.Now().UTC()
	}) {
		return
	}
	logger.Info("run cancelled", logging.String(logging.FieldEventType, "run_cancelled"))
	c.record(ctx, run)
}

func (c *Controller) record(ctx context.Context, run *Run) {
	if c.deps.Recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.deps.Recorder.Record(recordCtx, run.Snapshot()); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "failed to record run history", "history_record_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state directory"),
			logging.String(logging.FieldImpact, "run missing from history"),
		)
	}
}

func translationDecision(translate bool) string {
	if translate {
		return "translate"
	}
	return "keep"
}

func failureHint(kind services.Kind) string {
	switch kind {
	case services.KindInput:
		return "check the source file format and audio track"
	case services.KindModel:
		return "run `overdub deps` and check backend configuration"
	case services.KindResource:
		return "check disk space and ffmpeg health"
	default:
		return "check logs for details"
	}
}
