// Package transcribe turns an extracted audio track into an ordered,
// non-overlapping transcript.
//
// Recognition is delegated to a Recognizer. The production recognizer runs
// WhisperX; tests substitute fakes. Whatever the backend returns is
// normalized (sorted, merged, clipped), optionally filtered for common
// hallucinations, and annotated with low-confidence flags.
package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"overdub/internal/language"
	"overdub/internal/logging"
	"overdub/internal/media"
	"overdub/internal/services"
	"overdub/internal/transcript"
)

var (
	// ErrTranscriptionUnavailable reports a successful recognition that found
	// no usable speech.
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")
	// ErrModelLoad reports a recognition backend that is missing or cannot
	// initialize.
	ErrModelLoad = errors.New("recognition model load failed")
)

// Recognition is the raw output of a recognizer. Chunks are in the order the
// backend produced them and may overlap.
type Recognition struct {
	Language string
	Chunks   []transcript.Segment
}

// Recognizer performs speech recognition on a WAV file.
type Recognizer interface {
	Recognize(ctx context.Context, audio media.AudioStream, language string) (Recognition, error)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, audio media.AudioStream, language string) (Recognition, error)

// Recognize calls f.
func (f RecognizerFunc) Recognize(ctx context.Context, audio media.AudioStream, language string) (Recognition, error) {
	return f(ctx, audio, language)
}

// Options tunes post-processing.
type Options struct {
	LowConfidenceThreshold float64
	FilterHallucinations   bool
	Logger                 *slog.Logger
}

// Transcriber wraps a Recognizer with normalization.
type Transcriber struct {
	recognizer Recognizer
	opts       Options
	logger     *slog.Logger
}

// New constructs a Transcriber.
func New(recognizer Recognizer, opts Options) *Transcriber {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Transcriber{
		recognizer: recognizer,
		opts:       opts,
		logger:     logging.NewComponentLogger(logger, "transcriber"),
	}
}

// Transcribe recognizes speech in audio. language may be "auto".
//
// An empty result is returned together with ErrTranscriptionUnavailable so
// callers can decide whether a silent source is acceptable.
func (t *Transcriber) Transcribe(ctx context.Context, audio media.AudioStream, lang string) (transcript.Transcript, error) {
	if t.recognizer == nil {
		return transcript.Transcript{}, services.Wrap(services.ErrModel, "transcribe", "recognize", "no recognizer configured", ErrModelLoad)
	}
	if err := ctx.Err(); err != nil {
		return transcript.Transcript{}, cancelled(err)
	}
	if language.IsAuto(lang) {
		lang = language.Auto
	} else if iso, err := language.Normalize(lang); err == nil {
		lang = iso
	} else {
		return transcript.Transcript{}, services.Wrap(services.ErrValidation, "transcribe", "language", lang, err)
	}

	logger := logging.WithContext(ctx, t.logger)
	logger.Info("recognition started",
		logging.String(logging.FieldEventType, "transcription_started"),
		logging.String("audio", audio.Path),
		logging.String("language", lang),
	)

	rec, err := t.recognizer.Recognize(ctx, audio, lang)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return transcript.Transcript{}, cancelled(ctxErr)
		}
		if errors.Is(err, ErrTranscriptionUnavailable) {
			return transcript.Transcript{}, services.Wrap(services.ErrInput, "transcribe", "recognize", "no speech detected", err)
		}
		if !errors.Is(err, ErrModelLoad) {
			err = errors.Join(ErrModelLoad, err)
		}
		return transcript.Transcript{}, services.Wrap(services.ErrModel, "transcribe", "recognize", "", err)
	}

	segments := make([]transcript.Segment, 0, len(rec.Chunks))
	for _, chunk := range rec.Chunks {
		if err := ctx.Err(); err != nil {
			return transcript.Transcript{}, cancelled(err)
		}
		segments = append(segments, chunk)
	}

	if err := ctx.Err(); err != nil {
		return transcript.Transcript{}, cancelled(err)
	}
	segments = transcript.Normalize(segments)
	if t.opts.FilterHallucinations {
		var removed []transcript.Removal
		segments, removed = transcript.Filter(segments, audio.Duration)
		for _, r := range removed {
			logger.Debug("dropped hallucinated segment",
				logging.String("reason", r.Reason),
				logging.Float64("start", r.Segment.Start),
				logging.String("text", r.Segment.Text),
			)
		}
		if len(removed) > 0 {
			logger.Info("hallucination filter applied",
				logging.String(logging.FieldEventType, "hallucination_filter"),
				logging.Int("removed", len(removed)),
			)
		}
	}
	segments = transcript.MarkLowConfidence(segments, t.opts.LowConfidenceThreshold)

	detected := resolveLanguage(rec.Language, lang, audio.Language)
	result := transcript.New(detected, segments)
	if result.Empty() {
		return result, services.Wrap(services.ErrInput, "transcribe", "recognize", "no speech detected", ErrTranscriptionUnavailable)
	}

	low := 0
	for _, seg := range segments {
		if seg.LowConfidence {
			low++
		}
	}
	logger.Info("recognition completed",
		logging.String(logging.FieldEventType, "transcription_completed"),
		logging.Int("segments", len(segments)),
		logging.Int("low_confidence", low),
		logging.String("language", detected),
	)
	return result, nil
}

// resolveLanguage picks the best available language tag: what the backend
// detected, then what was requested, then the stream tag.
func resolveLanguage(detected, requested, tagged string) string {
	for _, candidate := range []string{detected, requested, tagged} {
		candidate = strings.TrimSpace(candidate)
		if language.IsAuto(candidate) {
			continue
		}
		if iso := language.ToISO2(candidate); iso != "" {
			return iso
		}
	}
	return language.Undetermined
}

func cancelled(err error) error {
	return services.Wrap(services.ErrCancelled, "transcribe", "", "", err)
}
