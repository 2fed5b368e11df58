package config

const (
	defaultStagingDir                = "~/.local/share/overdub/staging"
	defaultOutputDir                 = "~/Videos/overdub"
	defaultStateDir                  = "~/.local/share/overdub"
	defaultAPIBind                   = "127.0.0.1:7491"
	defaultWhisperXModel             = "large-v3"
	defaultVADMethod                 = "silero"
	defaultTranscriptionLanguage     = "auto"
	defaultLowConfidenceThreshold    = 0.5
	defaultTargetLanguage            = "pt"
	defaultTranslationBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultTranslationModel          = "google/gemini-3-flash-preview"
	defaultTranslationReferer        = "https://github.com/overdub/overdub"
	defaultTranslationTitle          = "Overdub Translator"
	defaultTranslationTimeoutSeconds = 60
	defaultTranslationBatchSize      = 20
	defaultVoiceBinary               = "espeak-ng"
	defaultSampleRate                = 22050
	defaultWordsPerMinute            = 170
	defaultMinRate                   = 0.75
	defaultMaxRate                   = 1.5
	defaultDurationTolerance         = 0.10
	defaultSynthesisMaxAttempts      = 3
	defaultChunkFrames               = 48
	defaultCaptionBandRatio          = 0.18
	defaultCaptionMaxLines           = 2
	defaultFontScale                 = 2
	defaultQueueCapacity             = 8
	defaultCodec                     = "libx264"
	defaultQuality                   = 0.5
	defaultContainer                 = "mp4"
	defaultWriteRetries              = 1
	defaultQueueStallTimeoutSeconds  = 120
	defaultMaxConcurrentRuns         = 2
	defaultStageRetries              = 1
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			StateDir:   defaultStateDir,
			APIBind:    defaultAPIBind,
		},
		Transcription: Transcription{
			WhisperXModel:          defaultWhisperXModel,
			VADMethod:              defaultVADMethod,
			Language:               defaultTranscriptionLanguage,
			LowConfidenceThreshold: defaultLowConfidenceThreshold,
			FilterHallucinations:   true,
		},
		Translation: Translation{
			TargetLanguage: defaultTargetLanguage,
			BaseURL:        defaultTranslationBaseURL,
			Model:          defaultTranslationModel,
			Referer:        defaultTranslationReferer,
			Title:          defaultTranslationTitle,
			TimeoutSeconds: defaultTranslationTimeoutSeconds,
			BatchSize:      defaultTranslationBatchSize,
		},
		Synthesis: Synthesis{
			VoiceBinary:       defaultVoiceBinary,
			SampleRate:        defaultSampleRate,
			WordsPerMinute:    defaultWordsPerMinute,
			MinRate:           defaultMinRate,
			MaxRate:           defaultMaxRate,
			DurationTolerance: defaultDurationTolerance,
			MaxAttempts:       defaultSynthesisMaxAttempts,
		},
		Compositor: Compositor{
			ChunkFrames:      defaultChunkFrames,
			CaptionBandRatio: defaultCaptionBandRatio,
			CaptionMaxLines:  defaultCaptionMaxLines,
			FontScale:        defaultFontScale,
		},
		Encoding: Encoding{
			QueueCapacity:            defaultQueueCapacity,
			Codec:                    defaultCodec,
			Quality:                  defaultQuality,
			Container:                defaultContainer,
			WriteRetries:             defaultWriteRetries,
			QueueStallTimeoutSeconds: defaultQueueStallTimeoutSeconds,
		},
		Pipeline: Pipeline{
			MaxConcurrentRuns: defaultMaxConcurrentRuns,
			StageRetries:      defaultStageRetries,
		},
		History: History{
			Enabled: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
