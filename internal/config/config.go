package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir" yaml:"staging_dir"`
	OutputDir  string `toml:"output_dir" yaml:"output_dir"`
	StateDir   string `toml:"state_dir" yaml:"state_dir"`
	APIBind    string `toml:"api_bind" yaml:"api_bind"`
	APIToken   string `toml:"api_token" yaml:"api_token"`
}

// Transcription contains configuration for speech recognition.
type Transcription struct {
	WhisperXModel          string  `toml:"whisperx_model" yaml:"whisperx_model"`
	CUDAEnabled            bool    `toml:"cuda_enabled" yaml:"cuda_enabled"`
	VADMethod              string  `toml:"vad_method" yaml:"vad_method"`
	HuggingFaceToken       string  `toml:"hf_token" yaml:"hf_token"`
	Language               string  `toml:"language" yaml:"language"`
	LowConfidenceThreshold float64 `toml:"low_confidence_threshold" yaml:"low_confidence_threshold"`
	FilterHallucinations   bool    `toml:"filter_hallucinations" yaml:"filter_hallucinations"`
}

// Translation contains configuration for the LLM-backed translator.
type Translation struct {
	TargetLanguage string `toml:"target_language" yaml:"target_language"`
	APIKey         string `toml:"api_key" yaml:"api_key"`
	BaseURL        string `toml:"base_url" yaml:"base_url"`
	Model          string `toml:"model" yaml:"model"`
	Referer        string `toml:"referer" yaml:"referer"`
	Title          string `toml:"title" yaml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	BatchSize      int    `toml:"batch_size" yaml:"batch_size"`
	CachePath      string `toml:"cache_path" yaml:"cache_path"`
}

// Synthesis contains configuration for narration synthesis.
type Synthesis struct {
	VoiceBinary       string  `toml:"voice_binary" yaml:"voice_binary"`
	SampleRate        int     `toml:"sample_rate" yaml:"sample_rate"`
	WordsPerMinute    int     `toml:"words_per_minute" yaml:"words_per_minute"`
	MinRate           float64 `toml:"min_rate" yaml:"min_rate"`
	MaxRate           float64 `toml:"max_rate" yaml:"max_rate"`
	DurationTolerance float64 `toml:"duration_tolerance" yaml:"duration_tolerance"`
	MaxAttempts       int     `toml:"max_attempts" yaml:"max_attempts"`
}

// Compositor contains configuration for per-frame rendering.
type Compositor struct {
	// Workers is the number of goroutines composing frame chunks. Zero picks
	// the logical CPU count.
	Workers          int     `toml:"workers" yaml:"workers"`
	// ChunkFrames is the decode span of one worker. Composed frames stream
	// out of a chunk as they are ready, bounded by encoding.queue_capacity.
	ChunkFrames      int     `toml:"chunk_frames" yaml:"chunk_frames"`
	CaptionBandRatio float64 `toml:"caption_band_ratio" yaml:"caption_band_ratio"`
	CaptionMaxLines  int     `toml:"caption_max_lines" yaml:"caption_max_lines"`
	FontScale        int     `toml:"font_scale" yaml:"font_scale"`
}

// Encoding contains configuration for the output writer.
type Encoding struct {
	QueueCapacity            int     `toml:"queue_capacity" yaml:"queue_capacity"`
	Codec                    string  `toml:"codec" yaml:"codec"`
	Quality                  float64 `toml:"quality" yaml:"quality"`
	Container                string  `toml:"container" yaml:"container"`
	WriteRetries             int     `toml:"write_retries" yaml:"write_retries"`
	QueueStallTimeoutSeconds int     `toml:"queue_stall_timeout_seconds" yaml:"queue_stall_timeout_seconds"`
}

// Pipeline contains configuration for the run controller.
type Pipeline struct {
	MaxConcurrentRuns int  `toml:"max_concurrent_runs" yaml:"max_concurrent_runs"`
	ExportSRT         bool `toml:"export_srt" yaml:"export_srt"`
	StageRetries      int  `toml:"stage_retries" yaml:"stage_retries"`
}

// History contains configuration for the persisted run ledger.
type History struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" yaml:"format"`
	Level  string `toml:"level" yaml:"level"`
}

// Config encapsulates all configuration values for overdub.
//
// Configuration sections by subsystem:
//   - Paths: staging, output, and state directories plus the API bind address
//   - Transcription: WhisperX model and VAD settings
//   - Translation: LLM connection settings and translation cache
//   - Synthesis: espeak-ng voice and duration fitting
//   - Compositor: worker pool and caption layout
//   - Encoding: frame queue, codec, and write retries
//   - Pipeline: run concurrency and sidecar export
//   - History: SQLite run ledger
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths" yaml:"paths"`
	Transcription Transcription `toml:"transcription" yaml:"transcription"`
	Translation   Translation   `toml:"translation" yaml:"translation"`
	Synthesis     Synthesis     `toml:"synthesis" yaml:"synthesis"`
	Compositor    Compositor    `toml:"compositor" yaml:"compositor"`
	Encoding      Encoding      `toml:"encoding" yaml:"encoding"`
	Pipeline      Pipeline      `toml:"pipeline" yaml:"pipeline"`
	History       History       `toml:"history" yaml:"history"`
	Logging       Logging       `toml:"logging" yaml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/overdub/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("overdub.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for pipeline operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.OutputDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable name used for decoding and audio conversion.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// HistoryPath returns the SQLite database path for the run ledger.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "overdubd.lock")
}

// LogPath returns the log file written alongside console output.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.StateDir, "overdub.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// MarshalRedactedYAML renders the effective configuration as YAML with secrets redacted.
func (c *Config) MarshalRedactedYAML() ([]byte, error) {
	clone := *c
	clone.Paths.APIToken = redact(clone.Paths.APIToken)
	clone.Translation.APIKey = redact(clone.Translation.APIKey)
	clone.Transcription.HuggingFaceToken = redact(clone.Transcription.HuggingFaceToken)
	return yaml.Marshal(&clone)
}

// MarshalRedactedTOML renders the effective configuration as TOML with secrets redacted.
func (c *Config) MarshalRedactedTOML() ([]byte, error) {
	clone := *c
	clone.Paths.APIToken = redact(clone.Paths.APIToken)
	clone.Translation.APIKey = redact(clone.Translation.APIKey)
	clone.Transcription.HuggingFaceToken = redact(clone.Transcription.HuggingFaceToken)
	return toml.Marshal(&clone)
}

func redact(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "********"
}
