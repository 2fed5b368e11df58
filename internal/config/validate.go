package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateTranslation(); err != nil {
		return err
	}
	if err := c.validateSynthesis(); err != nil {
		return err
	}
	if err := c.validateCompositor(); err != nil {
		return err
	}
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTranscription() error {
	switch c.Transcription.VADMethod {
	case "silero", "pyannote":
	default:
		return fmt.Errorf("transcription.vad_method must be silero or pyannote, got %q", c.Transcription.VADMethod)
	}
	if c.Transcription.VADMethod == "pyannote" && c.Transcription.HuggingFaceToken == "" {
		return errors.New("transcription.hf_token must be set when transcription.vad_method is pyannote (or set HF_TOKEN)")
	}
	if c.Transcription.LowConfidenceThreshold < 0 || c.Transcription.LowConfidenceThreshold > 1 {
		return errors.New("transcription.low_confidence_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateTranslation() error {
	if strings.TrimSpace(c.Translation.TargetLanguage) == "" {
		return errors.New("translation.target_language must be set")
	}
	return ensurePositiveMap(map[string]int{
		"translation.timeout_seconds": c.Translation.TimeoutSeconds,
		"translation.batch_size":      c.Translation.BatchSize,
	})
}

func (c *Config) validateSynthesis() error {
	if err := ensurePositiveMap(map[string]int{
		"synthesis.sample_rate":      c.Synthesis.SampleRate,
		"synthesis.words_per_minute": c.Synthesis.WordsPerMinute,
		"synthesis.max_attempts":     c.Synthesis.MaxAttempts,
	}); err != nil {
		return err
	}
	if c.Synthesis.MinRate <= 0 {
		return errors.New("synthesis.min_rate must be positive")
	}
	if c.Synthesis.MaxRate < c.Synthesis.MinRate {
		return errors.New("synthesis.max_rate must be >= synthesis.min_rate")
	}
	if c.Synthesis.DurationTolerance < 0 || c.Synthesis.DurationTolerance >= 1 {
		return errors.New("synthesis.duration_tolerance must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateCompositor() error {
	if c.Compositor.CaptionBandRatio <= 0 || c.Compositor.CaptionBandRatio > 0.5 {
		return errors.New("compositor.caption_band_ratio must be in (0, 0.5]")
	}
	return ensurePositiveMap(map[string]int{
		"compositor.workers":           c.Compositor.Workers,
		"compositor.chunk_frames":      c.Compositor.ChunkFrames,
		"compositor.caption_max_lines": c.Compositor.CaptionMaxLines,
		"compositor.font_scale":        c.Compositor.FontScale,
	})
}

func (c *Config) validateEncoding() error {
	if c.Encoding.Quality < 0 || c.Encoding.Quality > 1 {
		return errors.New("encoding.quality must be between 0 and 1")
	}
	switch c.Encoding.Container {
	case "mp4", "mkv", "mov", "webm":
	default:
		return fmt.Errorf("encoding.container %q is not supported", c.Encoding.Container)
	}
	return ensurePositiveMap(map[string]int{
		"encoding.queue_capacity":              c.Encoding.QueueCapacity,
		"encoding.queue_stall_timeout_seconds": c.Encoding.QueueStallTimeoutSeconds,
		"pipeline.max_concurrent_runs":         c.Pipeline.MaxConcurrentRuns,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
