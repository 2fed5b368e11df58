// Package synth produces narration audio whose duration fits the time a
// transcript segment occupies on screen.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"overdub/internal/logging"
	"overdub/internal/services"
	"overdub/internal/transcript"
)

// Warning is a non-fatal observation attached to synthesized audio.
type Warning string

// DurationMismatch means the rate bounds did not allow the speech to fit the
// target duration within tolerance.
const DurationMismatch Warning = "duration_mismatch"

// Defaults used when Options leave fields unset.
const (
	DefaultMinRate     = 0.75
	DefaultMaxRate     = 1.5
	DefaultTolerance   = 0.10
	DefaultMaxAttempts = 3
	DefaultSampleRate  = 22050
)

// Speech is raw output from a Voice.
type Speech struct {
	Samples    []int16
	SampleRate int
}

// Voice renders text at a relative speaking rate (1.0 is the voice's normal
// speed).
type Voice interface {
	Speak(ctx context.Context, text, language string, rate float64) (Speech, error)
}

// Audio is fitted mono narration.
type Audio struct {
	Samples    []int16
	SampleRate int
	Duration   float64 // seconds
	Rate       float64
	Warnings   []Warning
}

// HasWarning reports whether w was recorded.
func (a Audio) HasWarning(w Warning) bool {
	return slices.Contains(a.Warnings, w)
}

// Options bounds the rate search.
type Options struct {
	MinRate     float64
	MaxRate     float64
	Tolerance   float64
	MaxAttempts int
	SampleRate  int
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MinRate <= 0 {
		o.MinRate = DefaultMinRate
	}
	if o.MaxRate < o.MinRate {
		o.MaxRate = max(DefaultMaxRate, o.MinRate)
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.SampleRate <= 0 {
		o.SampleRate = DefaultSampleRate
	}
	return o
}

// Synthesizer fits voice output to target durations.
type Synthesizer struct {
	voice  Voice
	opts   Options
	logger *slog.Logger
}

// New constructs a Synthesizer.
func New(voice Voice, opts Options) *Synthesizer {
	opts = opts.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Synthesizer{voice: voice, opts: opts, logger: logging.NewComponentLogger(logger, "synthesizer")}
}

// Synthesize speaks text and adjusts the rate until the result lasts
// targetDuration seconds within tolerance. Audio that cannot be fitted inside
// the rate bounds is returned with the DurationMismatch warning. A
// non-positive target skips fitting.
func (s *Synthesizer) Synthesize(ctx context.Context, text, language string, targetDuration float64) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, services.Wrap(services.ErrCancelled, "synthesize", "", "", err)
	}
	if strings.TrimSpace(text) == "" {
		return Audio{SampleRate: s.opts.SampleRate, Rate: 1}, nil
	}
	if s.voice == nil {
		return Audio{}, services.Wrap(services.ErrModel, "synthesize", "speak", "no voice configured", nil)
	}

	rate := 1.0
	audio, err := s.speak(ctx, text, language, rate)
	if err != nil {
		return Audio{}, err
	}
	if targetDuration <= 0 {
		return audio, nil
	}

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if s.withinTolerance(audio.Duration, targetDuration) {
			return audio, nil
		}
		next := clamp(rate*audio.Duration/targetDuration, s.opts.MinRate, s.opts.MaxRate)
		if next == rate {
			break
		}
		rate = next
		if audio, err = s.speak(ctx, text, language, rate); err != nil {
			return Audio{}, err
		}
	}
	if !s.withinTolerance(audio.Duration, targetDuration) {
		audio.Warnings = append(audio.Warnings, DurationMismatch)
	}
	return audio, nil
}

func (s *Synthesizer) speak(ctx context.Context, text, language string, rate float64) (Audio, error) {
	speech, err := s.voice.Speak(ctx, text, language, rate)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Audio{}, services.Wrap(services.ErrCancelled, "synthesize", "speak", "", ctxErr)
		}
		return Audio{}, services.Wrap(services.ErrModel, "synthesize", "speak", fmt.Sprintf("rate %.2f", rate), err)
	}
	sampleRate := speech.SampleRate
	if sampleRate <= 0 {
		sampleRate = s.opts.SampleRate
	}
	return Audio{
		Samples:    speech.Samples,
		SampleRate: sampleRate,
		Duration:   float64(len(speech.Samples)) / float64(sampleRate),
		Rate:       rate,
	}, nil
}

func (s *Synthesizer) withinTolerance(actual, target float64) bool {
	return math.Abs(actual-target) <= s.opts.Tolerance*target+1e-9
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// SynthesizeTranscript synthesizes every segment, each fitted to its own
// duration. Cancellation is observed at segment boundaries.
func (s *Synthesizer) SynthesizeTranscript(ctx context.Context, tr transcript.Transcript, progress func(done, total int)) ([]Audio, error) {
	logger := logging.WithContext(ctx, s.logger)
	segments := tr.Segments()
	out := make([]Audio, 0, len(segments))
	mismatches := 0
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, services.Wrap(services.ErrCancelled, "synthesize", "", "", err)
		}
		audio, err := s.Synthesize(ctx, seg.Text, tr.Language(), seg.Duration())
		if err != nil {
			return nil, err
		}
		if audio.HasWarning(DurationMismatch) {
			mismatches++
			logger.Debug("narration does not fit segment",
				logging.Int("segment", i),
				logging.Float64("target_seconds", seg.Duration()),
				logging.Float64("actual_seconds", audio.Duration),
				logging.Float64("rate", audio.Rate),
			)
		}
		out = append(out, audio)
		if progress != nil {
			progress(i+1, len(segments))
		}
	}
	if mismatches > 0 {
		logging.WarnWithContext(logger, "narration duration mismatch", "synthesis_duration_mismatch",
			logging.Int("segments", mismatches),
			logging.String(logging.FieldErrorHint, "widen synthesis.min_rate/max_rate"),
			logging.String(logging.FieldImpact, "narration will be truncated or padded to segment bounds"),
		)
	}
	return out, nil
}
