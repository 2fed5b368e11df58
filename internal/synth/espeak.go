package synth

import (
	"context"

	"overdub/internal/config"
	"overdub/internal/language"
	"overdub/internal/services/espeak"
)

// ESpeak adapts the espeak service to Voice.
type ESpeak struct {
	service *espeak.Service
}

var _ Voice = (*ESpeak)(nil)

// NewESpeak wraps an espeak service.
func NewESpeak(service *espeak.Service) *ESpeak {
	return &ESpeak{service: service}
}

// NewESpeakFromConfig builds the production voice from the synthesis section.
func NewESpeakFromConfig(cfg *config.Config) *ESpeak {
	return NewESpeak(espeak.NewService(espeak.Config{
		Binary:         cfg.Synthesis.VoiceBinary,
		FFmpegBinary:   cfg.FFmpegBinary(),
		SampleRate:     cfg.Synthesis.SampleRate,
		WordsPerMinute: cfg.Synthesis.WordsPerMinute,
	}))
}

// Speak implements Voice, mapping the language to an espeak-ng voice.
func (e *ESpeak) Speak(ctx context.Context, text, lang string, rate float64) (Speech, error) {
	samples, err := e.service.Speak(ctx, text, language.Voice(lang), rate)
	if err != nil {
		return Speech{}, err
	}
	return Speech{Samples: samples, SampleRate: e.service.SampleRate()}, nil
}

// OptionsFromConfig maps the synthesis section to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinRate:     cfg.Synthesis.MinRate,
		MaxRate:     cfg.Synthesis.MaxRate,
		Tolerance:   cfg.Synthesis.DurationTolerance,
		MaxAttempts: cfg.Synthesis.MaxAttempts,
		SampleRate:  cfg.Synthesis.SampleRate,
	}
}
