package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"overdub/internal/composite"
	"overdub/internal/config"
	"overdub/internal/encoding"
	"overdub/internal/media"
	"overdub/internal/media/ffprobe"
	"overdub/internal/synth"
	"overdub/internal/transcribe"
	"overdub/internal/translate"
)

// NewFromConfig wires the production backends: ffmpeg/ffprobe sources,
// WhisperX recognition, the LLM translator with its cache, espeak-ng voices,
// the frame compositor, and the Vidio encoder. recorder may be nil.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger, recorder Recorder) (*Controller, error) {
	mediaOpts := media.Options{
		StagingDir:    cfg.Paths.StagingDir,
		FFmpegBinary:  cfg.FFmpegBinary(),
		FFprobeBinary: cfg.FFprobeBinary(),
		Logger:        logger,
	}
	open := func(ctx context.Context, input Input) (media.Source, error) {
		if len(input.Data) > 0 {
			return media.Open(ctx, input.Data, mediaOpts)
		}
		return media.OpenFile(ctx, input.Path, mediaOpts)
	}

	cache, err := translate.OpenCache(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open translation cache: %w", err)
	}
	translator := translate.New(translate.NewLLMBackendFromConfig(cfg), cache, translate.Options{
		BatchSize: cfg.Translation.BatchSize,
		Logger:    logger,
	})

	synthOpts := synth.OptionsFromConfig(cfg)
	synthOpts.Logger = logger

	deps := Deps{
		Open: open,
		Transcriber: transcribe.New(transcribe.NewWhisperXFromConfig(cfg), transcribe.Options{
			LowConfidenceThreshold: cfg.Transcription.LowConfidenceThreshold,
			FilterHallucinations:   cfg.Transcription.FilterHallucinations,
			Logger:                 logger,
		}),
		Translator:  translator,
		Synthesizer: synth.New(synth.NewESpeakFromConfig(cfg), synthOpts),
		Compositor: composite.New(composite.Options{
			Workers:      cfg.Compositor.Workers,
			ChunkFrames:  cfg.Compositor.ChunkFrames,
			BufferFrames: cfg.Encoding.QueueCapacity,
			StallTimeout: time.Duration(cfg.Encoding.QueueStallTimeoutSeconds) * time.Second,
			Style: composite.Style{
				BandRatio: cfg.Compositor.CaptionBandRatio,
				MaxLines:  cfg.Compositor.CaptionMaxLines,
				FontScale: cfg.Compositor.FontScale,
			},
			Logger: logger,
		}),
		Encoder: encoding.New(encoding.Options{
			Codec:         cfg.Encoding.Codec,
			Quality:       cfg.Encoding.Quality,
			WriteRetries:  cfg.Encoding.WriteRetries,
			Probe:         ffprobe.Inspect,
			FFmpegBinary:  cfg.FFmpegBinary(),
			FFprobeBinary: cfg.FFprobeBinary(),
			Logger:        logger,
		}),
		Recorder: recorder,
		Closers:  []func() error{translator.Close},
	}
	return NewController(deps, Options{
		MaxConcurrentRuns: cfg.Pipeline.MaxConcurrentRuns,
		StageRetries:      cfg.Pipeline.StageRetries,
		QueueCapacity:     cfg.Encoding.QueueCapacity,
		OutputDir:         cfg.Paths.OutputDir,
		WorkDir:           cfg.Paths.StagingDir,
		Container:         cfg.Encoding.Container,
		DefaultTarget:     cfg.Translation.TargetLanguage,
		DefaultLanguage:   cfg.Transcription.Language,
		DubSampleRate:     cfg.Synthesis.SampleRate,
		ExportSRT:         cfg.Pipeline.ExportSRT,
		Logger:            logger,
	}), nil
}
