package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTranscription()
	if err := c.normalizeTranslation(); err != nil {
		return err
	}
	c.normalizeSynthesis()
	c.normalizeCompositor()
	c.normalizeEncoding()
	c.normalizePipeline()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if value, ok := os.LookupEnv("OVERDUB_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeTranscription() {
	c.Transcription.WhisperXModel = strings.TrimSpace(c.Transcription.WhisperXModel)
	if c.Transcription.WhisperXModel == "" {
		c.Transcription.WhisperXModel = defaultWhisperXModel
	}
	c.Transcription.VADMethod = strings.ToLower(strings.TrimSpace(c.Transcription.VADMethod))
	if c.Transcription.VADMethod == "" {
		c.Transcription.VADMethod = defaultVADMethod
	}
	c.Transcription.Language = strings.ToLower(strings.TrimSpace(c.Transcription.Language))
	if c.Transcription.Language == "" {
		c.Transcription.Language = defaultTranscriptionLanguage
	}
	if value, ok := os.LookupEnv("HUGGING_FACE_HUB_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Transcription.HuggingFaceToken = value
	} else if value, ok := os.LookupEnv("HF_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Transcription.HuggingFaceToken = value
	}
	c.Transcription.HuggingFaceToken = strings.TrimSpace(c.Transcription.HuggingFaceToken)
}

func (c *Config) normalizeTranslation() error {
	c.Translation.TargetLanguage = strings.ToLower(strings.TrimSpace(c.Translation.TargetLanguage))
	if c.Translation.TargetLanguage == "" {
		c.Translation.TargetLanguage = defaultTargetLanguage
	}
	c.Translation.BaseURL = strings.TrimSpace(c.Translation.BaseURL)
	if c.Translation.BaseURL == "" {
		c.Translation.BaseURL = defaultTranslationBaseURL
	}
	c.Translation.Model = strings.TrimSpace(c.Translation.Model)
	if c.Translation.Model == "" {
		c.Translation.Model = defaultTranslationModel
	}
	c.Translation.Referer = strings.TrimSpace(c.Translation.Referer)
	if c.Translation.Referer == "" {
		c.Translation.Referer = defaultTranslationReferer
	}
	c.Translation.Title = strings.TrimSpace(c.Translation.Title)
	if c.Translation.Title == "" {
		c.Translation.Title = defaultTranslationTitle
	}
	if c.Translation.TimeoutSeconds <= 0 {
		c.Translation.TimeoutSeconds = defaultTranslationTimeoutSeconds
	}
	if c.Translation.BatchSize <= 0 {
		c.Translation.BatchSize = defaultTranslationBatchSize
	}
	// Environment keys take precedence over the file so secrets can stay out of it.
	if value, ok := os.LookupEnv("OVERDUB_LLM_API_KEY"); ok && strings.TrimSpace(value) != "" {
		c.Translation.APIKey = value
	} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok && strings.TrimSpace(value) != "" {
		c.Translation.APIKey = value
	}
	c.Translation.APIKey = strings.TrimSpace(c.Translation.APIKey)
	if strings.TrimSpace(c.Translation.CachePath) != "" {
		var err error
		if c.Translation.CachePath, err = expandPath(c.Translation.CachePath); err != nil {
			return fmt.Errorf("translation.cache_path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeSynthesis() {
	c.Synthesis.VoiceBinary = strings.TrimSpace(c.Synthesis.VoiceBinary)
	if c.Synthesis.VoiceBinary == "" {
		c.Synthesis.VoiceBinary = defaultVoiceBinary
	}
	if c.Synthesis.SampleRate <= 0 {
		c.Synthesis.SampleRate = defaultSampleRate
	}
	if c.Synthesis.WordsPerMinute <= 0 {
		c.Synthesis.WordsPerMinute = defaultWordsPerMinute
	}
	if c.Synthesis.MaxAttempts <= 0 {
		c.Synthesis.MaxAttempts = defaultSynthesisMaxAttempts
	}
}

func (c *Config) normalizeCompositor() {
	if c.Compositor.Workers <= 0 {
		c.Compositor.Workers = defaultWorkers()
	}
	if c.Compositor.ChunkFrames <= 0 {
		c.Compositor.ChunkFrames = defaultChunkFrames
	}
	if c.Compositor.CaptionMaxLines <= 0 {
		c.Compositor.CaptionMaxLines = defaultCaptionMaxLines
	}
	if c.Compositor.FontScale <= 0 {
		c.Compositor.FontScale = defaultFontScale
	}
}

func (c *Config) normalizeEncoding() {
	if c.Encoding.QueueCapacity <= 0 {
		c.Encoding.QueueCapacity = defaultQueueCapacity
	}
	c.Encoding.Codec = strings.TrimSpace(c.Encoding.Codec)
	if c.Encoding.Codec == "" {
		c.Encoding.Codec = defaultCodec
	}
	c.Encoding.Container = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Encoding.Container)), ".")
	if c.Encoding.Container == "" {
		c.Encoding.Container = defaultContainer
	}
	if c.Encoding.WriteRetries < 0 {
		c.Encoding.WriteRetries = 0
	}
	if c.Encoding.QueueStallTimeoutSeconds <= 0 {
		c.Encoding.QueueStallTimeoutSeconds = defaultQueueStallTimeoutSeconds
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.MaxConcurrentRuns <= 0 {
		c.Pipeline.MaxConcurrentRuns = defaultMaxConcurrentRuns
	}
	if c.Pipeline.StageRetries < 0 {
		c.Pipeline.StageRetries = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func defaultWorkers() int {
	if count, err := cpu.Counts(true); err == nil && count > 0 {
		return count
	}
	return runtime.NumCPU()
}
